package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/aq2208/gcheckout/internal/gateway"
	"github.com/aq2208/gcheckout/internal/transport"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CHECKOUT_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		Env      string `koanf:"env"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		IdleTimeout     time.Duration `koanf:"idle_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"http"`

	MySQL struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
		Migrate         bool          `koanf:"migrate"`
	} `koanf:"mysql"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"idempotency"`

	Session struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"session"`

	Cache struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"cache"`

	Rabbit struct {
		URL                 string `koanf:"url"`
		Exchange            string `koanf:"exchange"`
		ProviderEventsQueue string `koanf:"provider_events_queue"`
		Prefetch            int    `koanf:"prefetch"`
	} `koanf:"rabbitmq"`

	Kafka struct {
		Enabled     bool     `koanf:"enabled"`
		Brokers     []string `koanf:"brokers"`
		GroupID     string   `koanf:"group_id"`
		TopicEvents string   `koanf:"topic_events"`
	} `koanf:"kafka"`

	Security struct {
		JWTSecret string         `koanf:"jwt_secret"`
		Issuer    string         `koanf:"issuer"`
		Audience  string         `koanf:"audience"`
		TTL       time.Duration  `koanf:"ttl"`
		Clients   []ClientConfig `koanf:"clients"`
	} `koanf:"security"`

	Webhooks struct {
		Tolerance time.Duration     `koanf:"tolerance"`
		Secrets   map[string]string `koanf:"secrets"`
	} `koanf:"webhooks"`

	Crypto CryptoConfig `koanf:"crypto"`

	Transport TransportConfig `koanf:"transport"`

	Checkout struct {
		IntentTimeout     time.Duration `koanf:"intent_timeout"`
		ConfirmTimeout    time.Duration `koanf:"confirm_timeout"`
		ReconcileTimeout  time.Duration `koanf:"reconcile_timeout"`
		StaleAfter        time.Duration `koanf:"stale_after"`
		ReconcileInterval time.Duration `koanf:"reconcile_interval"`
		ReconcileBatch    int           `koanf:"reconcile_batch"`
		RelayInterval     time.Duration `koanf:"relay_interval"`
		RelayBatch        int           `koanf:"relay_batch"`
	} `koanf:"checkout"`

	Providers map[string]ProviderConfig `koanf:"providers"`
}

type ClientConfig struct {
	ID     string   `koanf:"id"`
	Secret string   `koanf:"secret"`
	Perms  []string `koanf:"perms"`
}

type CryptoConfig struct {
	KeyID     string `koanf:"key_id"`
	AES256B64 string `koanf:"aes256_b64url"`
	// Retired keys stay readable until every session sealed with them expired.
	Retired map[string]string `koanf:"retired"`
}

type TransportConfig struct {
	Timeout         time.Duration `koanf:"timeout"`
	MaxAttempts     int           `koanf:"max_attempts"`
	RetryDelay      time.Duration `koanf:"retry_delay"`
	RateLimit       float64       `koanf:"rate_limit"`
	Burst           int           `koanf:"burst"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

type ProviderConfig struct {
	Enabled         bool             `koanf:"enabled"`
	BaseURL         string           `koanf:"base_url"`
	APIKey          string           `koanf:"api_key"`
	PublishableKey  string           `koanf:"publishable_key"`
	ClientID        string           `koanf:"client_id"`
	ClientSecret    string           `koanf:"client_secret"`
	MerchantID      string           `koanf:"merchant_id"`
	MerchantDomain  string           `koanf:"merchant_domain"`
	DisplayName     string           `koanf:"display_name"`
	CountryCode     string           `koanf:"country_code"`
	Currencies      []string         `koanf:"currencies"`
	ValidationHosts []string         `koanf:"validation_hosts"`
	Locale          string           `koanf:"locale"`
	Transport       *TransportConfig `koanf:"transport"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env override (dev/staging/prod). Optional: allow missing for local runs.
	_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())

	// 3) environment variables override (prefix CHECKOUT_, nested with __)
	// e.g. CHECKOUT_MYSQL__DSN, CHECKOUT_PROVIDERS__CARD_NETWORK__API_KEY
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if cfg.App.Env == "" {
		cfg.App.Env = envName
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport.MaxAttempts <= 0 {
		c.Transport.MaxAttempts = transport.DefaultMaxAttempts
	}
	if c.Transport.RetryDelay <= 0 {
		c.Transport.RetryDelay = transport.DefaultRetryDelay
	}
	if c.Transport.Timeout <= 0 {
		c.Transport.Timeout = 10 * time.Second
	}
	// A checkout step must outlive every retry the transport may make.
	budget := c.Transport.toTransport().RetryBudget()
	if c.Checkout.IntentTimeout <= 0 {
		c.Checkout.IntentTimeout = budget
	}
	if c.Checkout.ConfirmTimeout <= 0 {
		c.Checkout.ConfirmTimeout = budget
	}
	if c.Checkout.ReconcileTimeout <= 0 {
		c.Checkout.ReconcileTimeout = c.Transport.Timeout
	}
	if c.Idempotency.TTL <= 0 {
		c.Idempotency.TTL = 24 * time.Hour
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = 72 * time.Hour
	}
	if c.Webhooks.Tolerance <= 0 {
		c.Webhooks.Tolerance = 5 * time.Minute
	}
	if c.Security.TTL <= 0 {
		c.Security.TTL = 15 * time.Minute
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	if c.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr required")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret required")
	}
	if c.Crypto.AES256B64 == "" {
		return fmt.Errorf("crypto.aes256_b64url required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	for id := range c.Providers {
		if !gateway.ProviderID(id).Valid() {
			return fmt.Errorf("providers.%s: unknown provider", id)
		}
	}
	return nil
}

// Gateways turns the provider sections into adapter configs. A provider
// without its own transport block uses the shared one.
func (c Config) Gateways() map[gateway.ProviderID]gateway.Config {
	out := make(map[gateway.ProviderID]gateway.Config, len(c.Providers))
	for id, p := range c.Providers {
		tc := c.Transport
		if p.Transport != nil {
			tc = *p.Transport
		}
		t := tc.toTransport()
		t.Locale = p.Locale
		out[gateway.ProviderID(id)] = gateway.Config{
			Enabled:         p.Enabled,
			BaseURL:         p.BaseURL,
			APIKey:          p.APIKey,
			PublishableKey:  p.PublishableKey,
			ClientID:        p.ClientID,
			ClientSecret:    p.ClientSecret,
			MerchantID:      p.MerchantID,
			MerchantDomain:  p.MerchantDomain,
			DisplayName:     p.DisplayName,
			CountryCode:     p.CountryCode,
			Currencies:      p.Currencies,
			ValidationHosts: p.ValidationHosts,
			Transport:       t,
		}
	}
	return out
}

func (t TransportConfig) toTransport() transport.Config {
	return transport.Config{
		Timeout:         t.Timeout,
		MaxAttempts:     t.MaxAttempts,
		RetryDelay:      t.RetryDelay,
		RateLimit:       t.RateLimit,
		Burst:           t.Burst,
		BreakerFailures: t.BreakerFailures,
		BreakerCooldown: t.BreakerCooldown,
	}
}
