package app

import (
	"github.com/aq2208/gcheckout/configs"
	"github.com/aq2208/gcheckout/internal/gateway"
	"github.com/aq2208/gcheckout/internal/gateway/cardnet"
	"github.com/aq2208/gcheckout/internal/gateway/devicepay"
	"github.com/aq2208/gcheckout/internal/gateway/localrail"
	"github.com/aq2208/gcheckout/internal/gateway/walletpay"
	"github.com/aq2208/gcheckout/internal/transport"
)

// buildProviders registers every adapter this binary ships with. Only the
// providers enabled in config are initialized; the rest report unavailable.
func buildProviders(cfg configs.Config, obs transport.AttemptObserver) (*gateway.Registry, error) {
	opts := []transport.Option{transport.WithObserver(obs)}

	b := gateway.NewBuilder()
	factories := map[gateway.ProviderID]gateway.Factory{
		gateway.CardNetwork:    func() gateway.Adapter { return cardnet.New(opts...) },
		gateway.WalletRedirect: func() gateway.Adapter { return walletpay.New(opts...) },
		gateway.DeviceWallet:   func() gateway.Adapter { return devicepay.New(opts...) },
		gateway.BankRedirect:   func() gateway.Adapter { return localrail.NewBankRedirect(opts...) },
		gateway.MobileBank:     func() gateway.Adapter { return localrail.NewMobileBank(opts...) },
	}
	for _, id := range gateway.ProviderIDs {
		if err := b.Register(id, factories[id]); err != nil {
			return nil, err
		}
	}
	return b.Build(cfg.Gateways())
}
