package breaker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"digestfanout/internal/blobstore"
	"digestfanout/internal/retry"
)

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func TestThreeFailuresWithinShortWindowMute(t *testing.T) {
	t.Parallel()

	st := NewState()
	tg := Target{Channel: "slack", TargetKey: "OPS"}
	boom := retry.HTTPError(503, "service unavailable")

	for i := 0; i < 2; i++ {
		if s := RecordSendFailure(st, tg, boom, t0.Add(time.Duration(i)*time.Minute)); s.Muted {
			t.Fatalf("muted after %d failures", i+1)
		}
	}
	s := RecordSendFailure(st, tg, boom, t0.Add(2*time.Minute))
	if !s.Muted {
		t.Fatalf("expected mute after 3 failures")
	}
	want := t0.Add(2 * time.Minute).Add(ShortMute).Format(time.RFC3339Nano)
	if s.MutedUntilISO != want {
		t.Fatalf("mutedUntil=%s want %s", s.MutedUntilISO, want)
	}
	if got := GetCircuitState(st, tg, t0.Add(10*time.Minute)); !got.Muted {
		t.Fatalf("expected muted status")
	}
	e := st.Targets[0]
	if e.LastError == nil || e.LastError.Status != 503 || e.LastError.Kind != string(retry.KindHTTP) {
		t.Fatalf("lastError=%+v", e.LastError)
	}
}

func TestSuccessResets(t *testing.T) {
	t.Parallel()

	st := NewState()
	tg := Target{Channel: "email", RecipientKey: "broadcast"}
	for i := 0; i < 3; i++ {
		RecordSendFailure(st, tg, errors.New("dial tcp: refused"), t0)
	}
	RecordSendSuccess(st, tg)

	if s := GetCircuitState(st, tg, t0); s.Muted {
		t.Fatalf("still muted after success")
	}
	e := st.Targets[0]
	if e.FailureCount != 0 || e.LastError != nil || e.FirstFailureAtISO != "" {
		t.Fatalf("entry not reset: %+v", e)
	}
}

func TestLongMuteAfterSixFailures(t *testing.T) {
	t.Parallel()

	st := NewState()
	tg := Target{Channel: "webhook", TargetKey: "PAGER"}
	// Spaced 40 minutes apart so the short rule never sees 3 within 30m.
	var s Status
	for i := 0; i < 6; i++ {
		now := t0.Add(time.Duration(i) * 40 * time.Minute)
		s = RecordSendFailure(st, tg, errors.New("x"), now)
		if i < 5 && s.Muted {
			t.Fatalf("muted early at failure %d", i+1)
		}
	}
	if !s.Muted {
		t.Fatalf("expected long mute")
	}
	last := t0.Add(5 * 40 * time.Minute)
	if want := iso(last.Add(LongMute)); s.MutedUntilISO != want {
		t.Fatalf("mutedUntil=%s want %s", s.MutedUntilISO, want)
	}
}

func TestWindowResetsAfterLongWindow(t *testing.T) {
	t.Parallel()

	st := NewState()
	tg := Target{Channel: "slack", TargetKey: "OPS"}
	RecordSendFailure(st, tg, errors.New("a"), t0)
	RecordSendFailure(st, tg, errors.New("b"), t0.Add(time.Minute))
	s := RecordSendFailure(st, tg, errors.New("c"), t0.Add(7*time.Hour))
	if s.Muted {
		t.Fatalf("stale failures must not count")
	}
	if st.Targets[0].FailureCount != 1 {
		t.Fatalf("count=%d want 1", st.Targets[0].FailureCount)
	}
}

func TestLazyExpiry(t *testing.T) {
	t.Parallel()

	st := NewState()
	tg := Target{Channel: "slack", TargetKey: "OPS"}
	for i := 0; i < 3; i++ {
		RecordSendFailure(st, tg, errors.New("x"), t0)
	}
	if s := GetCircuitState(st, tg, t0.Add(ShortMute)); s.Muted {
		t.Fatalf("mute should have expired")
	}
	if st.Targets[0].State != StateOpen {
		t.Fatalf("state=%s want open", st.Targets[0].State)
	}
}

func TestTargetIdentity(t *testing.T) {
	t.Parallel()

	st := NewState()
	for i := 0; i < 3; i++ {
		RecordSendFailure(st, Target{Channel: "slack", TargetKey: "OPS", RecipientKey: "profile-a"}, errors.New("x"), t0)
	}
	if s := GetCircuitState(st, Target{Channel: "slack", TargetKey: "OPS", RecipientKey: "profile-b"}, t0); !s.Muted {
		t.Fatalf("targetKey should take precedence over recipientKey")
	}
	if s := GetCircuitState(st, Target{Channel: "webhook", TargetKey: "OPS"}, t0); s.Muted {
		t.Fatalf("different channel must not share state")
	}
}

func TestErrorSanitized(t *testing.T) {
	t.Parallel()

	st := NewState()
	long := strings.Repeat("m", 500)
	err := &retry.ClassifiedError{Kind: retry.KindNetwork, Code: strings.Repeat("c", 100), Message: long}
	RecordSendFailure(st, Target{Channel: "email", RecipientKey: "r"}, err, t0)

	le := st.Targets[0].LastError
	if len(le.Message) != 200 || len(le.Code) != 60 {
		t.Fatalf("message=%d code=%d", len(le.Message), len(le.Code))
	}
}

func TestErrorSanitizedKeepsRunes(t *testing.T) {
	t.Parallel()

	st := NewState()
	msg := strings.Repeat("a", 199) + "é" + "tail"
	RecordSendFailure(st, Target{Channel: "email", RecipientKey: "r"}, errors.New(msg), t0)

	le := st.Targets[0].LastError
	if !utf8.ValidString(le.Message) {
		t.Fatalf("message is not valid UTF-8: %q", le.Message)
	}
	if le.Message != strings.Repeat("a", 199) {
		t.Fatalf("message=%q", le.Message)
	}
}

func TestUnmuteAndMuted(t *testing.T) {
	t.Parallel()

	st := NewState()
	tg := Target{Channel: "slack", TargetKey: "OPS"}
	for i := 0; i < 3; i++ {
		RecordSendFailure(st, tg, errors.New("x"), t0)
	}
	if got := Muted(st, t0); len(got) != 1 {
		t.Fatalf("muted=%d want 1", len(got))
	}
	if !UnmuteTarget(st, tg) {
		t.Fatalf("unmute reported unknown target")
	}
	if got := Muted(st, t0); len(got) != 0 {
		t.Fatalf("muted=%d want 0", len(got))
	}
	if UnmuteTarget(st, Target{Channel: "slack", TargetKey: "NOPE"}) {
		t.Fatalf("unknown target reported as unmuted")
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := blobstore.NewMemory()

	st, err := Load(ctx, store)
	if err != nil || len(st.Targets) != 0 {
		t.Fatalf("empty load: %v %+v", err, st)
	}
	tg := Target{Channel: "slack", TargetKey: "OPS"}
	for i := 0; i < 3; i++ {
		RecordSendFailure(st, tg, errors.New("x"), t0)
	}
	if err := Save(ctx, store, st, t0); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s := GetCircuitState(got, tg, t0.Add(time.Minute)); !s.Muted {
		t.Fatalf("mute lost across save/load")
	}
}
