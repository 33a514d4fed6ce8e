package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "fanout"))
	log.Debug("hidden")
	log.Info("sent", Int("attempts", 2), Err(errors.New("boom")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%d: %s", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatal(err)
	}
	errVal := m["err"]
	if errVal == nil {
		errVal = m["error"]
	}
	if m["comp"] != "fanout" || m["attempts"] != float64(2) || m["message"] != "sent" || errVal != "boom" {
		t.Fatalf("record=%v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller=%v", m["caller"])
	}
}

func TestZeroAndNopLoggers(t *testing.T) {
	t.Parallel()

	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero value must report IsZero")
	}
	zero.Error("dropped")
	zero.With(String("k", "v")).Info("dropped")

	if Nop().IsZero() {
		t.Fatalf("Nop is an explicit logger")
	}
	if Nop().Enabled(LevelError) {
		t.Fatalf("Nop must not be enabled")
	}
}

// New mutates zerolog globals, so this test stays sequential.
func TestAlertSink(t *testing.T) {
	got := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- body["text"]
	}))
	defer srv.Close()

	svc, log := New(Config{
		Level: "info",
		Alert: AlertConfig{Enabled: true, WebhookURL: srv.URL, MinLevel: "error", RatePerSec: 5},
	})
	defer svc.Close()

	log.Warn("below threshold")
	log.Error("breaker muted", String("target", "webhook:AUDIT"))

	select {
	case text := <-got:
		if !strings.HasPrefix(text, "[ERROR] breaker muted") || !strings.Contains(text, "target=webhook:AUDIT") {
			t.Fatalf("text=%q", text)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("alert not delivered")
	}
	select {
	case text := <-got:
		t.Fatalf("unexpected alert %q", text)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFormatAlertJSONFallback(t *testing.T) {
	t.Parallel()

	if got := formatAlertJSON([]byte("not json")); got != "not json" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("x", 5000)
	if got := truncate(long, 3500); len(got) != 3500 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate len=%d", len(got))
	}
}
