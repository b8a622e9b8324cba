package gateway

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aq2208/gcheckout/internal/apperr"
	"github.com/aq2208/gcheckout/internal/transport"
)

type Requirement struct {
	Name  string
	Value string
}

// Base holds the configuration and transport an adapter shares between calls.
type Base struct {
	mu     sync.RWMutex
	cfg    Config
	client *transport.Client
	ready  bool
}

// Init checks required settings and builds the transport. Once it succeeded,
// later calls are no-ops.
func (b *Base) Init(id ProviderID, cfg Config, required []Requirement, opts ...transport.Option) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return nil
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.Value) == "" {
			missing = append(missing, r.Name)
		}
	}
	if len(missing) > 0 {
		return apperr.Init(fmt.Sprintf("%s: missing %s", id, strings.Join(missing, ", ")))
	}
	tc := cfg.Transport
	tc.Name = string(id)
	if cfg.BaseURL != "" {
		tc.BaseURL = cfg.BaseURL
	}
	b.cfg = cfg
	b.client = transport.New(tc, opts...)
	b.ready = true
	return nil
}

func (b *Base) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

func (b *Base) Client() *transport.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

func (b *Base) Settings() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// Supports reports whether code is in the configured currency list. An empty
// list accepts every currency.
func (b *Base) Supports(code string) bool {
	cfg := b.Settings()
	if len(cfg.Currencies) == 0 {
		return true
	}
	for _, c := range cfg.Currencies {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// NotReady is returned by calls made before a successful Initialize.
func NotReady(id ProviderID) error {
	return apperr.Unavailable(string(id) + " is not initialized")
}

// Sanitize drops the provider payload from transport errors so raw provider
// bodies never leave an adapter.
func Sanitize(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind == apperr.KindHTTP && ae.Body != "" {
		cp := *ae
		cp.Body = ""
		return &cp
	}
	return err
}
