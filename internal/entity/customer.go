package domain

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

// CustomerInfo is what checkout knows about the payer. Which fields are
// required depends on the provider.
type CustomerInfo struct {
	Name           string  `json:"name"`
	Email          string  `json:"email,omitempty"`
	Phone          string  `json:"phone,omitempty"`
	BillingAddress Address `json:"billingAddress"`
	IsCompany      bool    `json:"isCompany,omitempty"`
	CompanyName    string  `json:"companyName,omitempty"`
	VATNumber      string  `json:"vatNumber,omitempty"`
}
