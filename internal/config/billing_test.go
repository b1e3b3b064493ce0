package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewBillingConfigHolderReadsFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "billing.yml")
	body := []byte(`billing:
  tax_rate_bps: 800
  webhook:
    signing_secret: whsec_test
    tolerance: 1m
  enforcer:
    schedule: "0 3 * * *"
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	holder, err := NewBillingConfigHolder(Config{BillingConfigPath: path}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	require.Equal(t, int64(800), cfg.TaxRateBps)
	require.Equal(t, "whsec_test", cfg.Webhook.SigningSecret)
	require.Equal(t, time.Minute, cfg.Webhook.Tolerance)
	require.Equal(t, "0 3 * * *", cfg.Enforcer.Schedule)
	require.Equal(t, 30, cfg.NoticePeriodDays)
	require.Equal(t, 3, cfg.GracePeriodDays)
	require.Equal(t, 2*time.Minute, cfg.Webhook.ClaimLease)
}

func TestNewBillingConfigHolderRejectsInvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "billing.yml")
	require.NoError(t, os.WriteFile(path, []byte("billing:\n  tax_rate_bps: 20000\n"), 0o600))

	_, err := NewBillingConfigHolder(Config{BillingConfigPath: path}, zap.NewNop())
	require.Error(t, err)
}

func TestValidateBillingConfigDefaults(t *testing.T) {
	require.NoError(t, ValidateBillingConfig(DefaultBillingConfig()))
}
