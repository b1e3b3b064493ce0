package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig is the hot-reloadable billing policy.
type BillingConfig struct {
	Currency             string             `mapstructure:"currency"`
	TaxRateBps           int64              `mapstructure:"tax_rate_bps"`
	NoticePeriodDays     int                `mapstructure:"notice_period_days"`
	GracePeriodDays      int                `mapstructure:"grace_period_days"`
	FinalWarningLeadDays int                `mapstructure:"final_warning_lead_days"`
	Webhook              WebhookConfig      `mapstructure:"webhook"`
	Enforcer             EnforcerConfig     `mapstructure:"enforcer"`
	Notification         NotificationConfig `mapstructure:"notification"`
}

type WebhookConfig struct {
	SigningSecret string        `mapstructure:"signing_secret"`
	Tolerance     time.Duration `mapstructure:"tolerance"`
	ClaimLease    time.Duration `mapstructure:"claim_lease"`
}

type EnforcerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Schedule      string        `mapstructure:"schedule"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
	BatchSize     int           `mapstructure:"batch_size"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

type NotificationConfig struct {
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Currency:             "JPY",
		TaxRateBps:           1000,
		NoticePeriodDays:     30,
		GracePeriodDays:      3,
		FinalWarningLeadDays: 3,
		Webhook: WebhookConfig{
			Tolerance:  5 * time.Minute,
			ClaimLease: 2 * time.Minute,
		},
		Enforcer: EnforcerConfig{
			Enabled:       true,
			Schedule:      "@daily",
			JobTimeout:    5 * time.Minute,
			NotifyTimeout: 10 * time.Second,
			BatchSize:     100,
			LockTTL:       10 * time.Minute,
		},
		Notification: NotificationConfig{
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewBillingConfigHolder reads billing.yml and keeps it updated on file changes.
func NewBillingConfigHolder(cfg Config, log *zap.Logger) (*BillingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("billing.config")

	v := viper.New()
	if cfg.BillingConfigPath != "" {
		v.SetConfigFile(cfg.BillingConfigPath)
	} else {
		v.SetConfigName("billing")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/siteledger")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SITELEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setBillingDefaults(v, DefaultBillingConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("billing config file not found, using defaults")
	}

	current, err := decodeBilling(v)
	if err != nil {
		return nil, err
	}
	if err := ValidateBillingConfig(current); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(current)

	if v.ConfigFileUsed() != "" {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeBilling(v)
			if err != nil {
				log.Warn("reload failed", zap.Error(err))
				return
			}
			if err := ValidateBillingConfig(updated); err != nil {
				log.Warn("invalid config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

// NewStaticBillingConfig wraps a fixed policy, mostly for tests and tools.
func NewStaticBillingConfig(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

// decodeBilling goes through AllSettings so nested defaults merge with partial files.
func decodeBilling(v *viper.Viper) (BillingConfig, error) {
	var wrapper struct {
		Billing BillingConfig `mapstructure:"billing"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return BillingConfig{}, err
	}
	return wrapper.Billing, nil
}

func setBillingDefaults(v *viper.Viper, d BillingConfig) {
	v.SetDefault("billing.currency", d.Currency)
	v.SetDefault("billing.tax_rate_bps", d.TaxRateBps)
	v.SetDefault("billing.notice_period_days", d.NoticePeriodDays)
	v.SetDefault("billing.grace_period_days", d.GracePeriodDays)
	v.SetDefault("billing.final_warning_lead_days", d.FinalWarningLeadDays)
	v.SetDefault("billing.webhook.signing_secret", d.Webhook.SigningSecret)
	v.SetDefault("billing.webhook.tolerance", d.Webhook.Tolerance)
	v.SetDefault("billing.webhook.claim_lease", d.Webhook.ClaimLease)
	v.SetDefault("billing.enforcer.enabled", d.Enforcer.Enabled)
	v.SetDefault("billing.enforcer.schedule", d.Enforcer.Schedule)
	v.SetDefault("billing.enforcer.job_timeout", d.Enforcer.JobTimeout)
	v.SetDefault("billing.enforcer.notify_timeout", d.Enforcer.NotifyTimeout)
	v.SetDefault("billing.enforcer.batch_size", d.Enforcer.BatchSize)
	v.SetDefault("billing.enforcer.lock_ttl", d.Enforcer.LockTTL)
	v.SetDefault("billing.notification.breaker_failures", d.Notification.BreakerFailures)
	v.SetDefault("billing.notification.breaker_cooldown", d.Notification.BreakerCooldown)
}

func ValidateBillingConfig(cfg BillingConfig) error {
	if cfg.TaxRateBps < 0 || cfg.TaxRateBps > 10000 {
		return fmt.Errorf("billing.tax_rate_bps out of range: %d", cfg.TaxRateBps)
	}
	if cfg.NoticePeriodDays < 0 {
		return errors.New("billing.notice_period_days cannot be negative")
	}
	if cfg.GracePeriodDays < 0 {
		return errors.New("billing.grace_period_days cannot be negative")
	}
	if cfg.FinalWarningLeadDays < 0 {
		return errors.New("billing.final_warning_lead_days cannot be negative")
	}
	if strings.TrimSpace(cfg.Enforcer.Schedule) == "" {
		return errors.New("billing.enforcer.schedule cannot be empty")
	}
	if cfg.Webhook.Tolerance < 0 || cfg.Webhook.ClaimLease <= 0 {
		return errors.New("billing.webhook durations must be positive")
	}
	return nil
}
