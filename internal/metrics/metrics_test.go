package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"digestfanout/internal/eventbus"
)

func TestObserve(t *testing.T) {
	t.Parallel()

	m := New()
	m.Observe(eventbus.Event{Data: eventbus.TickEvent{Outcome: eventbus.TickSkipped, Reason: "locked"}})
	m.Observe(eventbus.Event{Data: eventbus.SendEvent{Channel: "slack", Outcome: eventbus.SendFailed}})
	m.Observe(eventbus.Event{Data: eventbus.SendEvent{Channel: "slack", Outcome: eventbus.SendFailed}})
	m.Observe(eventbus.Event{Data: eventbus.JobEvent{Type: "alerts", OK: true, Duration: time.Second}})
	m.Observe(eventbus.Event{Data: eventbus.BreakerEvent{Channel: "webhook"}})
	m.Observe(eventbus.Event{Data: "ignored"})

	if got := testutil.ToFloat64(m.ticks.WithLabelValues("skipped")); got != 1 {
		t.Fatalf("ticks=%v", got)
	}
	if got := testutil.ToFloat64(m.sends.WithLabelValues("slack", "failed")); got != 2 {
		t.Fatalf("sends=%v", got)
	}
	if got := testutil.ToFloat64(m.jobs.WithLabelValues("alerts", "true")); got != 1 {
		t.Fatalf("jobs=%v", got)
	}
	if got := testutil.ToFloat64(m.mutes.WithLabelValues("webhook")); got != 1 {
		t.Fatalf("mutes=%v", got)
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	m := New()
	m.Observe(eventbus.Event{Data: eventbus.TickEvent{Outcome: eventbus.TickRan}})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `fanout_ticks_total{outcome="ran"} 1`) {
		t.Fatalf("body missing tick counter:\n%s", body)
	}
}
