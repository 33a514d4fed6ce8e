package cronexpr

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// standardParser accepts the same 5-field form plus ranges; it backs the
// timezone-aware extension point and the ticker spec.
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Zoned evaluates expressions in the job's IANA timezone instead of UTC.
//
// It is an opt-in extension point (scheduler.timezone_aware). Day-of-month and
// day-of-week follow robfig/cron semantics: when both are restricted, either
// may match.
type Zoned struct {
	// Fallback is used when the job timezone is empty or unknown. Nil means UTC.
	Fallback *time.Location
}

func (z Zoned) IsDue(expr, timezone string, now time.Time) bool {
	if FieldCount(expr) != 5 {
		return false
	}
	loc := z.location(timezone)
	sched, err := standardParser.Parse(foldSunday(expr))
	if err != nil {
		return false
	}
	minute := now.In(loc).Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute)
}

func (z Zoned) location(tz string) *time.Location {
	if tz = strings.TrimSpace(tz); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if z.Fallback != nil {
		return z.Fallback
	}
	return time.UTC
}

// Next previews the next activation strictly after the given instant,
// following the evaluator in use: IsDue semantics in UTC, or robfig/cron in
// the job timezone when zoned is set.
func Next(expr, timezone string, after time.Time, zoned bool) (time.Time, error) {
	if !zoned {
		return nextUTC(expr, after)
	}
	if err := Validate(expr); err != nil {
		return time.Time{}, err
	}
	sched, err := standardParser.Parse(foldSunday(expr))
	if err != nil {
		return time.Time{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	return sched.Next(after.In(Zoned{}.location(timezone))), nil
}

// ValidateStandard checks expr with robfig/cron's standard 5-field parser,
// which drives the in-process ticker.
func ValidateStandard(expr string) error {
	if n := FieldCount(expr); n != 5 {
		return fmt.Errorf("cron %q: expected 5 fields, got %d", expr, n)
	}
	if _, err := standardParser.Parse(foldSunday(expr)); err != nil {
		return fmt.Errorf("cron %q: %w", expr, err)
	}
	return nil
}

// foldSunday rewrites day-of-week 7 to 0; robfig/cron only accepts 0-6.
func foldSunday(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return expr
	}
	parts := strings.Split(fields[4], ",")
	for i, p := range parts {
		if p == "7" {
			parts[i] = "0"
		}
	}
	fields[4] = strings.Join(parts, ",")
	return strings.Join(fields, " ")
}
