package eventbus

import "time"

const (
	TypeTick         = "tick.done"
	TypeJob          = "job.done"
	TypeSend         = "send"
	TypeBreakerMuted = "breaker.muted"
)

// Tick outcomes.
const (
	TickRan     = "ran"
	TickSkipped = "skipped"
	TickFailed  = "failed"
)

// Send outcomes.
const (
	SendSent    = "sent"
	SendSkipped = "skipped"
	SendFailed  = "failed"
)

type TickEvent struct {
	Outcome  string        `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Jobs     int           `json:"jobs"`
	Duration time.Duration `json:"duration"`
}

type JobEvent struct {
	JobID    string        `json:"jobId"`
	Type     string        `json:"type"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"duration"`
	Sent     int           `json:"sent"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
}

type SendEvent struct {
	JobID        string `json:"jobId"`
	Channel      string `json:"channel"`
	RecipientKey string `json:"recipientKey,omitempty"`
	TargetKey    string `json:"targetKey,omitempty"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
}

type BreakerEvent struct {
	Channel       string `json:"channel"`
	Key           string `json:"key"`
	MutedUntilISO string `json:"mutedUntilISO"`
}
