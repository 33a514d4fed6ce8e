// Package cronexpr decides whether a job is due at a given instant.
//
// Only the 5-field form (minute hour day-of-month month day-of-week) is
// supported. Each field is "*", "*/N", or a comma list of literals; day-of-week
// literals may be SUN..SAT (any case) or 0-7 with 7 meaning Sunday. All five
// fields must match. A malformed expression is never due.
//
// IsDue matches against the UTC components of now. The timezone argument is
// accepted and ignored; see Zoned for timezone-aware matching.
package cronexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Evaluator decides whether a cron expression is due at now.
type Evaluator interface {
	IsDue(expr, timezone string, now time.Time) bool
}

// UTC is the default Evaluator.
type UTC struct{}

// IsDue matches expr against the UTC components of now; timezone is ignored.
func (UTC) IsDue(expr, timezone string, now time.Time) bool { return IsDue(expr, timezone, now) }

var dowNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

// IsDue reports whether expr matches the UTC minute containing now.
func IsDue(expr, timezone string, now time.Time) bool {
	_ = timezone
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return false
	}
	t := now.UTC()
	values := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, f := range fields {
		if !matchField(f, values[i], i == 4) {
			return false
		}
	}
	return true
}

// FieldCount reports how many whitespace-separated fields expr has.
func FieldCount(expr string) int { return len(strings.Fields(expr)) }

func matchField(field string, value int, dow bool) bool {
	for _, part := range strings.Split(field, ",") {
		if matchPart(strings.TrimSpace(part), value, dow) {
			return true
		}
	}
	return false
}

func matchPart(part string, value int, dow bool) bool {
	if part == "*" {
		return true
	}
	if step, ok := strings.CutPrefix(part, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return false
		}
		return value%n == 0
	}
	lit, ok := parseLiteral(part, dow)
	return ok && lit == value
}

func parseLiteral(s string, dow bool) (int, bool) {
	if s == "" {
		return 0, false
	}
	if dow {
		if n, ok := dowNames[strings.ToUpper(s)]; ok {
			return n, true
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	if dow {
		if n > 7 {
			return 0, false
		}
		if n == 7 {
			n = 0
		}
	}
	return n, true
}

// fieldBounds are the literal ranges of minute, hour, day-of-month, month and
// day-of-week (7 folds to Sunday).
var fieldBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// Validate reports whether expr uses only the grammar IsDue understands:
// five fields of "*", "*/N" or comma lists of in-range literals.
func Validate(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(fields))
	}
	for i, f := range fields {
		if err := validateField(f, i); err != nil {
			return fmt.Errorf("cron %q: %s: %w", expr, fieldBounds[i].name, err)
		}
	}
	return nil
}

func validateField(field string, idx int) error {
	b := fieldBounds[idx]
	for _, part := range strings.Split(field, ",") {
		switch {
		case part == "*":
		case strings.HasPrefix(part, "*/"):
			n, err := strconv.Atoi(part[2:])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid step %q", part)
			}
		default:
			n, ok := parseLiteral(part, idx == 4)
			if !ok {
				return fmt.Errorf("unsupported value %q", part)
			}
			if idx == 4 {
				// parseLiteral already folded 7 and mapped names.
				continue
			}
			if n < b.min || n > b.max {
				return fmt.Errorf("%d out of range %d-%d", n, b.min, b.max)
			}
		}
	}
	return nil
}

// nextHorizon bounds Next; February 29 recurs within four years.
const nextHorizon = 5

var errNoActivation = errors.New("no activation within horizon")

// nextUTC returns the first minute strictly after after at which IsDue holds.
func nextUTC(expr string, after time.Time) (time.Time, error) {
	if err := Validate(expr); err != nil {
		return time.Time{}, err
	}
	f := strings.Fields(expr)
	t := after.UTC().Truncate(time.Minute).Add(time.Minute)
	end := t.AddDate(nextHorizon, 0, 0)
	for t.Before(end) {
		switch {
		case !matchField(f[3], int(t.Month()), false):
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		case !matchField(f[2], t.Day(), false) || !matchField(f[4], int(t.Weekday()), true):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
		case !matchField(f[1], t.Hour(), false):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, time.UTC)
		case !matchField(f[0], t.Minute(), false):
			t = t.Add(time.Minute)
		default:
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cron %q: %w", expr, errNoActivation)
}
