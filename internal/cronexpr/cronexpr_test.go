package cronexpr

import (
	"errors"
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestIsDue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr string
		now  string
		want bool
	}{
		{name: "monday 9am due", expr: "0 9 * * MON", now: "2026-01-05T09:00:00Z", want: true},
		{name: "monday 9:01 not due", expr: "0 9 * * MON", now: "2026-01-05T09:01:00Z", want: false},
		{name: "tuesday not due", expr: "0 9 * * MON", now: "2026-01-06T09:00:00Z", want: false},
		{name: "lowercase weekday", expr: "0 9 * * mon", now: "2026-01-05T09:00:30Z", want: true},
		{name: "numeric weekday", expr: "0 9 * * 1", now: "2026-01-05T09:00:00Z", want: true},
		{name: "seven is sunday", expr: "0 0 * * 7", now: "2026-01-04T00:00:00Z", want: true},
		{name: "zero is sunday", expr: "0 0 * * 0", now: "2026-01-04T00:00:00Z", want: true},
		{name: "step minute", expr: "*/15 * * * *", now: "2026-01-05T10:45:00Z", want: true},
		{name: "step minute miss", expr: "*/15 * * * *", now: "2026-01-05T10:46:00Z", want: false},
		{name: "comma list", expr: "0 8,12,18 * * *", now: "2026-01-05T12:00:00Z", want: true},
		{name: "comma list weekdays", expr: "30 7 * * MON,WED,FRI", now: "2026-01-07T07:30:00Z", want: true},
		{name: "day of month and month", expr: "0 0 1 1 *", now: "2026-01-01T00:00:00Z", want: true},
		{name: "utc components", expr: "0 9 * * *", now: "2026-01-05T10:00:00+01:00", want: true},
		{name: "four fields", expr: "0 9 * *", now: "2026-01-05T09:00:00Z", want: false},
		{name: "six fields", expr: "0 0 9 * * MON", now: "2026-01-05T09:00:00Z", want: false},
		{name: "empty", expr: "", now: "2026-01-05T09:00:00Z", want: false},
		{name: "zero step", expr: "*/0 * * * *", now: "2026-01-05T09:00:00Z", want: false},
		{name: "garbage literal", expr: "x 9 * * *", now: "2026-01-05T09:00:00Z", want: false},
		{name: "ranges unsupported", expr: "0 9 * * 1-5", now: "2026-01-05T09:00:00Z", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			now := mustTime(t, tt.now)
			if got := IsDue(tt.expr, "Europe/Paris", now); got != tt.want {
				t.Fatalf("IsDue(%q, %s) = %v, want %v", tt.expr, tt.now, got, tt.want)
			}
			// Pure: same inputs, same output.
			if again := IsDue(tt.expr, "Europe/Paris", now); again != tt.want {
				t.Fatalf("IsDue not stable for %q", tt.expr)
			}
		})
	}
}

func TestIsDueIgnoresTimezone(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2026-01-05T09:00:00Z")
	for _, tz := range []string{"", "UTC", "America/New_York", "not/a-zone"} {
		if !IsDue("0 9 * * MON", tz, now) {
			t.Fatalf("IsDue with tz %q should match UTC components", tz)
		}
	}
}

func TestZonedEvaluator(t *testing.T) {
	t.Parallel()
	z := Zoned{}
	// 09:00 in Paris (winter, UTC+1) is 08:00 UTC.
	if !z.IsDue("0 9 * * MON", "Europe/Paris", mustTime(t, "2026-01-05T08:00:00Z")) {
		t.Fatal("expected due at 09:00 Paris time")
	}
	if z.IsDue("0 9 * * MON", "Europe/Paris", mustTime(t, "2026-01-05T09:00:00Z")) {
		t.Fatal("09:00 UTC is 10:00 in Paris; should not be due")
	}
	if !z.IsDue("0 9 * * MON", "", mustTime(t, "2026-01-05T09:00:45Z")) {
		t.Fatal("empty timezone falls back to UTC")
	}
	if z.IsDue("0 9 * *", "UTC", mustTime(t, "2026-01-05T09:00:00Z")) {
		t.Fatal("malformed expression must never be due")
	}
}

func TestUTCEvaluator(t *testing.T) {
	t.Parallel()
	var ev Evaluator = UTC{}
	if !ev.IsDue("0 9 * * MON", "Asia/Tokyo", mustTime(t, "2026-01-05T09:00:00Z")) {
		t.Fatal("UTC evaluator should match UTC components regardless of timezone")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: "*/5 * * * *"},
		{expr: "0 9 * * 7"},
		{expr: "0 9 * * mon,FRI"},
		{expr: "30 7 1,15 * *"},
		{expr: "0 0 29 2 *"},
		{expr: "59 23 31 12 6"},
		{expr: "0 9 * *", wantErr: true},
		{expr: "0 9 1-5 * *", wantErr: true},
		{expr: "0 9 * * 1-5", wantErr: true},
		{expr: "0 9 * * MON-FRI", wantErr: true},
		{expr: "1/5 * * * *", wantErr: true},
		{expr: "60 * * * *", wantErr: true},
		{expr: "0 24 * * *", wantErr: true},
		{expr: "0 0 0 * *", wantErr: true},
		{expr: "0 0 32 * *", wantErr: true},
		{expr: "0 0 * 13 *", wantErr: true},
		{expr: "0 0 * * 8", wantErr: true},
		{expr: "1,,2 * * * *", wantErr: true},
		{expr: "*/0 * * * *", wantErr: true},
		{expr: "? * * * *", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%q) err = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestNextAgreesWithIsDue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr  string
		after string
		want  string
	}{
		{expr: "0 9 * * MON", after: "2026-01-05T09:00:00Z", want: "2026-01-12T09:00:00Z"},
		{expr: "0 9 */7 * *", after: "2026-01-01T00:00:00Z", want: "2026-01-07T09:00:00Z"},
		{expr: "0 9 1 * MON", after: "2026-01-01T00:00:00Z", want: "2026-06-01T09:00:00Z"},
		{expr: "0 0 29 2 *", after: "2026-01-01T00:00:00Z", want: "2028-02-29T00:00:00Z"},
		{expr: "*/15 * * * *", after: "2026-01-05T10:46:30Z", want: "2026-01-05T11:00:00Z"},
		{expr: "0 0 * * 7", after: "2026-01-01T00:00:00Z", want: "2026-01-04T00:00:00Z"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			after := mustTime(t, tt.after)
			next, err := Next(tt.expr, "", after, false)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if want := mustTime(t, tt.want); !next.Equal(want) {
				t.Fatalf("Next = %s, want %s", next, want)
			}
			if !next.After(after) {
				t.Fatalf("Next %s not after %s", next, after)
			}
			if !IsDue(tt.expr, "", next) {
				t.Fatalf("IsDue(%q, %s) = false for the previewed run", tt.expr, next)
			}
		})
	}
}

func TestNextRejectsOutsideGrammar(t *testing.T) {
	t.Parallel()
	after := mustTime(t, "2026-01-01T00:00:00Z")
	for _, zoned := range []bool{false, true} {
		if _, err := Next("0 9 1-5 * *", "", after, zoned); err == nil {
			t.Fatalf("Next(zoned=%v) accepted a range", zoned)
		}
	}
	if _, err := Next("0 0 31 2 *", "", after, false); !errors.Is(err, errNoActivation) {
		t.Fatalf("Next for impossible date err = %v, want errNoActivation", err)
	}
}

func TestNextZoned(t *testing.T) {
	t.Parallel()
	next, err := Next("0 9 * * MON", "Europe/Paris", mustTime(t, "2026-01-01T00:00:00Z"), true)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := mustTime(t, "2026-01-05T08:00:00Z"); !next.Equal(want) {
		t.Fatalf("Next = %s, want %s", next.UTC(), want)
	}
}

func TestValidateStandard(t *testing.T) {
	t.Parallel()
	if err := ValidateStandard("*/1 9-17 * * MON-FRI"); err != nil {
		t.Fatalf("ValidateStandard: %v", err)
	}
	if err := ValidateStandard("* * *"); err == nil {
		t.Fatal("expected error for 3 fields")
	}
}
