package security

import (
	"crypto/subtle"

	"github.com/aq2208/gcheckout/configs"
)

const (
	PermCheckoutWrite = "checkout.write"
	PermPaymentsRead  = "payments.read"
	PermOrdersRead    = "orders.read"
	PermOrdersWrite   = "orders.write"
)

type Client struct {
	ID      string
	Secret  string
	Perms   []string // e.g. {"checkout.write","payments.read"}
	Enabled bool
}

// Clients is the API client registry, loaded from config at startup.
type Clients map[string]Client

func NewClients(cfgs []configs.ClientConfig) Clients {
	out := make(Clients, len(cfgs))
	for _, c := range cfgs {
		out[c.ID] = Client{ID: c.ID, Secret: c.Secret, Perms: c.Perms, Enabled: true}
	}
	return out
}

// Authenticate returns the client when id and secret match an enabled entry.
func (cs Clients) Authenticate(id, secret string) (Client, bool) {
	c, ok := cs[id]
	if !ok || !c.Enabled {
		return Client{}, false
	}
	if subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) != 1 {
		return Client{}, false
	}
	return c, true
}
