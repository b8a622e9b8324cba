package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aq2208/gcheckout/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_BaseWithOverlays(t *testing.T) {
	dir := t.TempDir()
	base, err := os.ReadFile("base.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), base, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staging.yaml"), []byte(`
app:
  log_level: debug
providers:
  card_network:
    enabled: true
    api_key: sk_staging
`), 0o600))
	t.Setenv("CHECKOUT_REDIS__ADDR", "redis.internal:6379")

	cfg, err := Load(dir, "staging")
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.App.Env)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Len(t, cfg.Security.Clients, 2)

	gws := cfg.Gateways()
	card := gws[gateway.CardNetwork]
	assert.True(t, card.Enabled)
	assert.Equal(t, "sk_staging", card.APIKey)
	assert.Equal(t, 3, card.Transport.MaxAttempts)
	assert.Equal(t, "ar-SA", gws[gateway.MobileBank].Transport.Locale)
}

func TestApplyDefaults_TimeoutsCoverRetryBudget(t *testing.T) {
	var cfg Config
	cfg.Transport = TransportConfig{Timeout: 5 * time.Second, MaxAttempts: 3, RetryDelay: time.Second}
	cfg.applyDefaults()

	assert.Equal(t, 18*time.Second, cfg.Checkout.IntentTimeout)
	assert.Equal(t, 18*time.Second, cfg.Checkout.ConfirmTimeout)
	assert.Equal(t, 5*time.Second, cfg.Checkout.ReconcileTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
}

func TestValidate(t *testing.T) {
	var cfg Config
	cfg.App.HTTPAddr = ":8080"
	cfg.MySQL.DSN = "dsn"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Security.JWTSecret = "s"
	cfg.Crypto.AES256B64 = "k"
	require.NoError(t, cfg.Validate())

	cfg.Providers = map[string]ProviderConfig{"crypto_wallet": {}}
	assert.ErrorContains(t, cfg.Validate(), "unknown provider")

	cfg.Providers = nil
	cfg.Kafka.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "kafka.brokers")
}
