package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || !strings.HasPrefix(out, "fanoutd dev") {
		t.Fatalf("out=%q err=%v", out, err)
	}
}

func TestConfigCheckSchedule(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "schedule.yaml")
	if err := os.WriteFile(good, []byte(`
version: 1
jobs:
  - id: wir
    type: week_in_review
    enabled: true
    schedule: { cron: "0 8 * * 1" }
    notify:
      enabled: true
      email: { to: [board@example.com] }
`), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "config", "check", "--schedule", good)
	if err != nil || !strings.Contains(out, "schedule OK") {
		t.Fatalf("out=%q err=%v", out, err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"jobs":[{"id":"x","type":"nope","schedule":{"cron":"* * *"}}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, "config", "check", "--schedule", bad)
	if err == nil || !strings.Contains(out, "unknown job type") {
		t.Fatalf("out=%q err=%v", out, err)
	}
}

func TestConfigCheckNothing(t *testing.T) {
	t.Setenv("FANOUT_CONFIG", "")
	if _, err := run(t, "config", "check"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTickWithMemoryStore(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "fanoutd.json")
	if err := os.WriteFile(cfg, []byte(`{"logging":{"level":"error"},"storage":{"driver":"memory"},"scheduler":{"enabled":true},"channels":{"email":{"driver":"log"}}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "tick", "-c", cfg)
	if err != nil || !strings.Contains(out, `"ok": true`) {
		t.Fatalf("out=%q err=%v", out, err)
	}
	if _, err := run(t, "tick", "-c", cfg, "--job", "missing"); err == nil {
		t.Fatalf("unknown job must exit non-zero")
	}
}
