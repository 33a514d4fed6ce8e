package config

import (
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./fanout.db
scheduler:
  enabled: true
  lease: 5m
  retry:
    max_attempts: 4
    base_delay: 200ms
    jitter: false
channels:
  email:
    driver: ses
    from: digest@example.com
    region: eu-west-1
`

func TestParseBytesYAML(t *testing.T) {
	t.Parallel()

	cfg, err := ParseBytes("fanoutd.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Channels.Email.From != "digest@example.com" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}

	sc, err := cfg.ResolveScheduler()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sc.Tick != DefaultTick || sc.Lease != 5*time.Minute || sc.CallTimeout != DefaultCallTimeout {
		t.Fatalf("scheduler defaults: %+v", sc)
	}
	if sc.Retry.MaxAttempts != 4 || sc.Retry.BaseDelay != 200*time.Millisecond || sc.Retry.Jitter {
		t.Fatalf("retry: %+v", sc.Retry)
	}
}

func TestParseBytesStrict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		path string
		body string
	}{
		{"unknown field", "c.json", `{"logging":{"level":"info"},"pager":{}}`},
		{"trailing data", "c.json", `{"logging":{}} {"logging":{}}`},
		{"unknown yaml field", "c.yml", "scheduler:\n  workers: 3\n"},
		{"bad yaml", "c.yaml", "scheduler: [\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseBytes(tc.path, []byte(tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Storage.Driver = "mongo"
	cfg.Scheduler.Lease = "soon"
	cfg.Channels.Email.Driver = "ses"
	cfg.Tracing.Enabled = true

	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected errors")
	}
	msg := err.Error()
	for _, want := range []string{"storage.driver", "scheduler.lease", "channels.email.from", "tracing.endpoint"} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in %q", want, msg)
		}
	}
}

func TestValidateTick(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Scheduler.Tick = "* * *"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "scheduler.tick") {
		t.Fatalf("err=%v", err)
	}
}

func TestResolveSecretPrefersEnv(t *testing.T) {
	t.Setenv("FANOUT_TEST_TOKEN", "from-env")
	if got := ResolveSecret("inline", "FANOUT_TEST_TOKEN"); got != "from-env" {
		t.Fatalf("got %q", got)
	}
	if got := ResolveSecret(" inline ", "FANOUT_TEST_UNSET"); got != "inline" {
		t.Fatalf("got %q", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a := Default()
	b := Default()
	b.Logging.Level = "debug"
	b.Trigger.Token = "secret"

	changed, attrs := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "logging,trigger" {
		t.Fatalf("changed=%v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "trigger" {
		t.Fatalf("restart=%v", got)
	}
}
