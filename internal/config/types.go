package config

// Config is the service configuration for fanoutd.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Trigger   TriggerConfig   `json:"trigger"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Channels  ChannelsConfig  `json:"channels"`
	Tracing   TracingConfig   `json:"tracing,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards error logs to a chat webhook.
// WebhookURLEnv names an environment variable holding the URL (preferred over
// putting the URL in the file).
type LoggingAlert struct {
	Enabled       bool   `json:"enabled"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookURLEnv string `json:"webhook_url_env,omitempty"`
	MinLevel      string `json:"min_level"`
	RatePerSec    int    `json:"rate_per_sec"`
}

// StorageConfig selects the blob store backing every persisted document.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./fanout_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	Namespace   string `json:"namespace,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	Redis  RedisConfig  `json:"redis,omitempty"`
	Dynamo DynamoConfig `json:"dynamodb,omitempty"`
}

type RedisConfig struct {
	Addr        string `json:"addr,omitempty"`
	PasswordEnv string `json:"password_env,omitempty"`
	DB          int    `json:"db,omitempty"`
}

type DynamoConfig struct {
	Table    string `json:"table,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// TriggerConfig controls the HTTP trigger surface.
//
// Security note:
//   - Authenticated routes are only mounted when a token is configured.
//   - Prefer token_env over an inline token.
type TriggerConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr,omitempty"` // default: "127.0.0.1:8089"
	Token    string `json:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`

	// Pprof exposes /debug/pprof on the authenticated routes.
	Pprof bool `json:"pprof,omitempty"`
}

// SchedulerConfig controls ticking and per-tick behavior.
//
// Defaults (when fields are omitted/zero):
//   - tick: "* * * * *"
//   - lease: "10m"
//   - call_timeout: "15s"
//   - max_route_reports_per_run: 0 (use the job's own cap)
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Tick is a standard 5-field cron spec for the in-process timer (serve mode).
	Tick  string `json:"tick,omitempty"`
	Lease string `json:"lease,omitempty"`

	// TimezoneAware evaluates job crons in the job's timezone instead of UTC.
	TimezoneAware bool `json:"timezone_aware,omitempty"`

	MaxRouteReportsPerRun int    `json:"max_route_reports_per_run,omitempty"`
	CallTimeout           string `json:"call_timeout,omitempty"`
	MaxTailLines          int    `json:"max_tail_lines,omitempty"`

	Retry RetryConfig `json:"retry,omitempty"`
}

// RetryConfig controls per-send retries. Jitter is a pointer so an omitted
// value defaults to true.
type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	BaseDelay   string `json:"base_delay,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty"`
	MaxTotal    string `json:"max_total,omitempty"`
	Jitter      *bool  `json:"jitter,omitempty"`
}

// ChannelsConfig configures outbound senders.
type ChannelsConfig struct {
	Email EmailConfig `json:"email"`

	// SecretsEnvFile is an optional dotenv file loaded before resolving
	// slack/webhook target keys.
	SecretsEnvFile string `json:"secrets_env_file,omitempty"`
	// RatePerSec limits sends per channel. 0 disables limiting.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// EmailConfig selects the email driver: "ses" or "log".
type EmailConfig struct {
	Driver           string `json:"driver,omitempty"`
	From             string `json:"from,omitempty"`
	Region           string `json:"region,omitempty"`
	Endpoint         string `json:"endpoint,omitempty"`
	ConfigurationSet string `json:"configuration_set,omitempty"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint,omitempty"` // host:port of an OTLP/HTTP collector
	Insecure    bool    `json:"insecure,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
}
