// Package breaker tracks per-destination send failures and mutes
// destinations that keep failing.
//
// State is a single small document. The orchestrator loads it once per tick,
// mutates it in memory through the functions below, and saves it once at the
// end. Mute expiry is lazy: GetCircuitState flips an expired mute back to open
// when it is read. There is no background timer.
package breaker

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"digestfanout/internal/retry"
)

const (
	StateOpen  = "open"
	StateMuted = "muted"

	StateVersion = 1
	DocName      = "notification_circuit_breakers.json"

	maxMessageLen = 200
	maxCodeLen    = 60
)

// Mute policy (escalating, evaluated on every failure).
const (
	ShortThreshold = 3
	ShortWindow    = 30 * time.Minute
	ShortMute      = 30 * time.Minute

	LongThreshold = 6
	LongWindow    = 6 * time.Hour
	LongMute      = 6 * time.Hour
)

// Target identifies a destination. TargetKey wins over RecipientKey when both
// are set.
type Target struct {
	Channel      string
	TargetKey    string
	RecipientKey string
}

func (t Target) key() string {
	if t.TargetKey != "" {
		return t.TargetKey
	}
	return t.RecipientKey
}

func (t Target) String() string { return t.Channel + ":" + t.key() }

// ErrorInfo is the sanitized last error stored on an entry.
type ErrorInfo struct {
	Kind    string `json:"kind,omitempty"`
	Status  int    `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	AtISO   string `json:"atISO"`
}

// Entry is the persisted breaker record for one target.
type Entry struct {
	Channel           string     `json:"channel"`
	TargetKey         string     `json:"targetKey,omitempty"`
	RecipientKey      string     `json:"recipientKey,omitempty"`
	State             string     `json:"state"`
	FailureCount      int        `json:"failureCount"`
	FirstFailureAtISO string     `json:"firstFailureAtISO,omitempty"`
	LastFailureAtISO  string     `json:"lastFailureAtISO,omitempty"`
	MutedUntilISO     string     `json:"mutedUntilISO,omitempty"`
	LastError         *ErrorInfo `json:"lastError,omitempty"`
}

func (e Entry) Target() Target {
	return Target{Channel: e.Channel, TargetKey: e.TargetKey, RecipientKey: e.RecipientKey}
}

// State is the whole breaker document.
type State struct {
	Version      int     `json:"version"`
	UpdatedAtISO string  `json:"updatedAtISO"`
	Targets      []Entry `json:"targets"`
}

// NewState returns an empty document.
func NewState() *State { return &State{Version: StateVersion, Targets: []Entry{}} }

// Status is the read view returned by GetCircuitState.
type Status struct {
	Muted         bool   `json:"muted"`
	MutedUntilISO string `json:"mutedUntilISO,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func (s *State) find(t Target) int {
	if s == nil {
		return -1
	}
	k := t.key()
	for i := range s.Targets {
		e := &s.Targets[i]
		if e.Channel != t.Channel {
			continue
		}
		ek := e.TargetKey
		if ek == "" {
			ek = e.RecipientKey
		}
		if ek == k {
			return i
		}
	}
	return -1
}

func (s *State) entry(t Target) *Entry {
	if i := s.find(t); i >= 0 {
		return &s.Targets[i]
	}
	s.Targets = append(s.Targets, Entry{
		Channel:      t.Channel,
		TargetKey:    t.TargetKey,
		RecipientKey: t.RecipientKey,
		State:        StateOpen,
	})
	return &s.Targets[len(s.Targets)-1]
}

// RecordSendFailure counts one logical send failure (not one per retry) and
// applies the mute policy. It returns the resulting status.
func RecordSendFailure(s *State, t Target, err error, now time.Time) Status {
	if s == nil {
		return Status{}
	}
	now = now.UTC()
	e := s.entry(t)

	first := parseISO(e.FirstFailureAtISO)
	if first.IsZero() || e.FailureCount == 0 || now.Sub(first) > LongWindow {
		first = now
		e.FailureCount = 0
		e.FirstFailureAtISO = iso(now)
	}
	e.FailureCount++
	e.LastFailureAtISO = iso(now)
	e.LastError = sanitize(err, now)

	since := now.Sub(first)
	switch {
	case e.FailureCount >= LongThreshold && since <= LongWindow:
		e.State = StateMuted
		e.MutedUntilISO = iso(now.Add(LongMute))
	case e.FailureCount >= ShortThreshold && since <= ShortWindow:
		e.State = StateMuted
		e.MutedUntilISO = iso(now.Add(ShortMute))
	}
	s.UpdatedAtISO = iso(now)
	return statusOf(e)
}

// RecordSendSuccess fully resets the target's failure and mute bookkeeping.
func RecordSendSuccess(s *State, t Target) {
	if s == nil {
		return
	}
	i := s.find(t)
	if i < 0 {
		s.entry(t)
		return
	}
	e := &s.Targets[i]
	e.State = StateOpen
	e.FailureCount = 0
	e.FirstFailureAtISO = ""
	e.LastFailureAtISO = ""
	e.MutedUntilISO = ""
	e.LastError = nil
}

// GetCircuitState reports whether t is muted at now. A mute whose deadline has
// passed is flipped back to open on the in-memory state as a side effect.
func GetCircuitState(s *State, t Target, now time.Time) Status {
	if s == nil {
		return Status{}
	}
	i := s.find(t)
	if i < 0 {
		return Status{}
	}
	e := &s.Targets[i]
	expire(e, now)
	return statusOf(e)
}

// UnmuteTarget clears a mute immediately. It reports whether t was known.
func UnmuteTarget(s *State, t Target) bool {
	if s == nil {
		return false
	}
	i := s.find(t)
	if i < 0 {
		return false
	}
	e := &s.Targets[i]
	e.State = StateOpen
	e.MutedUntilISO = ""
	e.FailureCount = 0
	e.FirstFailureAtISO = ""
	return true
}

// Muted lists entries still muted at now (after lazy expiry).
func Muted(s *State, now time.Time) []Entry {
	if s == nil {
		return nil
	}
	var out []Entry
	for i := range s.Targets {
		e := &s.Targets[i]
		expire(e, now)
		if e.State == StateMuted {
			out = append(out, *e)
		}
	}
	return out
}

func expire(e *Entry, now time.Time) {
	if e.State != StateMuted {
		return
	}
	until := parseISO(e.MutedUntilISO)
	if until.IsZero() || !now.Before(until) {
		e.State = StateOpen
		e.MutedUntilISO = ""
	}
}

func statusOf(e *Entry) Status {
	if e.State != StateMuted {
		return Status{}
	}
	st := Status{Muted: true, MutedUntilISO: e.MutedUntilISO, Reason: "circuit_muted"}
	if e.LastError != nil && e.LastError.Message != "" {
		st.Reason = "circuit_muted: " + e.LastError.Message
	}
	return st
}

func sanitize(err error, now time.Time) *ErrorInfo {
	info := &ErrorInfo{AtISO: iso(now), Message: "unknown error"}
	if err == nil {
		return info
	}
	var ce *retry.ClassifiedError
	if errors.As(err, &ce) {
		info.Kind = string(ce.Kind)
		info.Status = ce.Status
		info.Code = ce.Code
		info.Message = ce.Message
	} else {
		info.Message = err.Error()
	}
	info.Message = clip(strings.TrimSpace(info.Message), maxMessageLen)
	info.Code = clip(strings.TrimSpace(info.Code), maxCodeLen)
	return info
}

// clip truncates s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func iso(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseISO(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
