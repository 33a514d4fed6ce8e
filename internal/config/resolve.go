package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"digestfanout/internal/cronexpr"
)

const (
	DefaultTick        = "* * * * *"
	DefaultLease       = 10 * time.Minute
	DefaultCallTimeout = 15 * time.Second
	DefaultTriggerAddr = "127.0.0.1:8089"
)

// Scheduler is SchedulerConfig with durations parsed and defaults applied.
type Scheduler struct {
	Enabled               bool
	Tick                  string
	Lease                 time.Duration
	CallTimeout           time.Duration
	TimezoneAware         bool
	MaxRouteReportsPerRun int
	MaxTailLines          int
	Retry                 Retry
}

type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxTotal    time.Duration
	Jitter      bool
}

// Default returns a minimal config usable for one-shot commands.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Storage:   StorageConfig{Driver: "file", Path: "./fanout_store"},
		Scheduler: SchedulerConfig{Enabled: true, Tick: DefaultTick},
		Channels:  ChannelsConfig{Email: EmailConfig{Driver: "log"}},
	}
}

func (c *Config) ResolveScheduler() (Scheduler, error) {
	sc := c.Scheduler
	out := Scheduler{
		Enabled:               sc.Enabled,
		Tick:                  strings.TrimSpace(sc.Tick),
		TimezoneAware:         sc.TimezoneAware,
		MaxRouteReportsPerRun: sc.MaxRouteReportsPerRun,
		MaxTailLines:          sc.MaxTailLines,
	}
	if out.Tick == "" {
		out.Tick = DefaultTick
	}
	var err error
	if out.Lease, err = ParseDurationOrDefault("scheduler.lease", sc.Lease, DefaultLease); err != nil {
		return out, err
	}
	if out.CallTimeout, err = ParseDurationOrDefault("scheduler.call_timeout", sc.CallTimeout, DefaultCallTimeout); err != nil {
		return out, err
	}

	r := sc.Retry
	out.Retry = Retry{MaxAttempts: r.MaxAttempts, Jitter: true}
	if r.Jitter != nil {
		out.Retry.Jitter = *r.Jitter
	}
	if out.Retry.BaseDelay, err = ParseDurationField("scheduler.retry.base_delay", r.BaseDelay); err != nil {
		return out, err
	}
	if out.Retry.MaxDelay, err = ParseDurationField("scheduler.retry.max_delay", r.MaxDelay); err != nil {
		return out, err
	}
	if out.Retry.MaxTotal, err = ParseDurationField("scheduler.retry.max_total", r.MaxTotal); err != nil {
		return out, err
	}
	return out, nil
}

// TriggerToken returns the bearer token, preferring the env var when named.
func (c *Config) TriggerToken() string {
	return ResolveSecret(c.Trigger.Token, c.Trigger.TokenEnv)
}

// AlertWebhookURL returns the logging alert URL, preferring the env var.
func (c *Config) AlertWebhookURL() string {
	return ResolveSecret(c.Logging.Alert.WebhookURL, c.Logging.Alert.WebhookURLEnv)
}

// ResolveSecret returns the value of envName when set, else inline.
func ResolveSecret(inline, envName string) string {
	if n := strings.TrimSpace(envName); n != "" {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(inline)
}

// Validate checks cross-field constraints. All problems are returned joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "memory":
	case "redis":
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			add("storage.redis.addr is required for driver redis")
		}
	case "dynamodb":
		if strings.TrimSpace(cfg.Storage.Dynamo.Table) == "" {
			add("storage.dynamodb.table is required for driver dynamodb")
		}
	default:
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	sc, err := cfg.ResolveScheduler()
	if err != nil {
		errs = append(errs, err)
	} else if err := cronexpr.ValidateStandard(sc.Tick); err != nil {
		add("scheduler.tick: %v", err)
	}
	if cfg.Scheduler.Retry.MaxAttempts < 0 {
		add("scheduler.retry.max_attempts must be >= 0")
	}

	if _, err := ParseDurationField("trigger.read_timeout", cfg.Trigger.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("trigger.write_timeout", cfg.Trigger.WriteTimeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Channels.Email.Driver)) {
	case "", "log":
	case "ses":
		if strings.TrimSpace(cfg.Channels.Email.From) == "" {
			add("channels.email.from is required for driver ses")
		}
	default:
		add("channels.email.driver: unknown driver %q", cfg.Channels.Email.Driver)
	}
	if cfg.Channels.RatePerSec < 0 {
		add("channels.rate_per_sec must be >= 0")
	}

	if cfg.Tracing.Enabled && strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
		add("tracing.endpoint is required when tracing is enabled")
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		add("tracing.sample_ratio must be within [0,1]")
	}
	if cfg.Logging.Alert.Enabled && cfg.AlertWebhookURL() == "" {
		add("logging.alert requires webhook_url or webhook_url_env")
	}

	return errors.Join(errs...)
}
