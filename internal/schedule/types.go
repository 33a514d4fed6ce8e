// Package schedule models the job schedule document owned by the admin
// surface: jobs, their notify settings, and recipient profiles.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	DocName     = "schedule_config.json"
	AliasesName = "content_aliases.json"
	Version     = 1
)

type JobType string

const (
	TypeWeekInReview JobType = "week_in_review"
	TypeAlerts       JobType = "alerts"
)

const (
	ModeBroadcast = "broadcast"
	ModeRoutes    = "routes"
)

// Config is the schedule document.
type Config struct {
	Version           int       `json:"version"`
	Jobs              []Job     `json:"jobs"`
	RecipientProfiles []Profile `json:"recipientProfiles,omitempty"`
}

// Profile finds a recipient profile by id.
func (c *Config) Profile(id string) (Profile, bool) {
	for _, p := range c.RecipientProfiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// Job finds a job by id.
func (c *Config) Job(id string) (Job, bool) {
	for _, j := range c.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

type Schedule struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"`
}

// Job is one scheduled job. Params is decoded per Type by Spec.
type Job struct {
	ID       string          `json:"id"`
	Type     JobType         `json:"type"`
	Enabled  bool            `json:"enabled"`
	Schedule Schedule        `json:"schedule"`
	Params   json.RawMessage `json:"params,omitempty"`
	Notify   *Notify         `json:"notify,omitempty"`
}

// Spec is the typed view of a job's params. Exactly one of the concrete
// types below implements it per job type.
type Spec interface {
	Type() JobType
	Filters() Filters
}

// WeekInReviewParams summarizes the previous LookbackDays of content.
type WeekInReviewParams struct {
	LookbackDays int     `json:"lookbackDays,omitempty"`
	TopN         int     `json:"topN,omitempty"`
	Filter       Filters `json:"filters,omitempty"`
}

func (WeekInReviewParams) Type() JobType      { return TypeWeekInReview }
func (p WeekInReviewParams) Filters() Filters { return p.Filter }

// AlertsParams surfaces risk items at or above MinSeverity from the previous
// LookbackHours.
type AlertsParams struct {
	LookbackHours int     `json:"lookbackHours,omitempty"`
	MinSeverity   string  `json:"minSeverity,omitempty"`
	TopN          int     `json:"topN,omitempty"`
	Filter        Filters `json:"filters,omitempty"`
}

func (AlertsParams) Type() JobType      { return TypeAlerts }
func (p AlertsParams) Filters() Filters { return p.Filter }

// Spec decodes Params for the job type, applying defaults.
func (j Job) Spec() (Spec, error) {
	raw := j.Params
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	switch j.Type {
	case TypeWeekInReview:
		var p WeekInReviewParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &ConfigError{JobID: j.ID, Field: "params", Msg: err.Error()}
		}
		if p.LookbackDays <= 0 {
			p.LookbackDays = 7
		}
		if p.TopN <= 0 {
			p.TopN = 10
		}
		return p, nil
	case TypeAlerts:
		var p AlertsParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &ConfigError{JobID: j.ID, Field: "params", Msg: err.Error()}
		}
		if p.LookbackHours <= 0 {
			p.LookbackHours = 24
		}
		if p.TopN <= 0 {
			p.TopN = 20
		}
		if p.MinSeverity == "" {
			p.MinSeverity = "high"
		}
		return p, nil
	default:
		return nil, &ConfigError{JobID: j.ID, Field: "type", Msg: fmt.Sprintf("unknown job type %q", j.Type)}
	}
}

// Notify configures fanout for a job.
type Notify struct {
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode,omitempty"` // broadcast (default) | routes

	Email   EmailNotify   `json:"email,omitempty"`
	Slack   TargetsNotify `json:"slack,omitempty"`
	Webhook TargetsNotify `json:"webhook,omitempty"`

	SendWhenEmpty            bool    `json:"sendWhenEmpty,omitempty"`
	Routes                   []Route `json:"routes,omitempty"`
	MaxPerRouteReportsPerRun int     `json:"maxPerRouteReportsPerRun,omitempty"`
}

// EffectiveMode returns the mode, defaulting to broadcast.
func (n *Notify) EffectiveMode() string {
	if n == nil || strings.TrimSpace(n.Mode) == "" {
		return ModeBroadcast
	}
	return strings.ToLower(strings.TrimSpace(n.Mode))
}

type EmailNotify struct {
	To []string `json:"to,omitempty"`
	CC []string `json:"cc,omitempty"`
	// Disabled suppresses email in routes mode while keeping chat targets.
	Disabled bool `json:"disabled,omitempty"`
}

// TargetsNotify lists secret keys for chat/webhook destinations.
// Targets apply in broadcast mode; RoutesTargets in routes mode (falling back
// to Targets when empty).
type TargetsNotify struct {
	Targets       []string `json:"targets,omitempty"`
	RoutesTargets []string `json:"routesTargets,omitempty"`
}

// For returns the target keys used in mode.
func (t TargetsNotify) For(mode string) []string {
	if mode == ModeRoutes && len(t.RoutesTargets) > 0 {
		return t.RoutesTargets
	}
	return t.Targets
}

// Route personalizes a digest for one profile.
type Route struct {
	ProfileID      string   `json:"profileId"`
	Filters        *Filters `json:"filters,omitempty"`
	GenerateReport bool     `json:"generateReport,omitempty"`
}

// Profile is a named audience.
type Profile struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	Filters Filters  `json:"filters,omitempty"`
}

// Filters narrow the content of a digest.
type Filters struct {
	Entities        []string `json:"entities,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Participants    []string `json:"participants,omitempty"`
	MinRiskSeverity string   `json:"minRiskSeverity,omitempty"`
	Include         *Include `json:"include,omitempty"`
}

// Include selects content kinds. A nil Include means every kind.
type Include struct {
	Summaries bool `json:"summaries"`
	Risks     bool `json:"risks"`
	Actions   bool `json:"actions"`
	Decisions bool `json:"decisions"`
}

// AllKinds is the Include used when none is configured.
var AllKinds = Include{Summaries: true, Risks: true, Actions: true, Decisions: true}

// Kinds returns the effective inclusion flags.
func (f Filters) Kinds() Include {
	if f.Include == nil {
		return AllKinds
	}
	return *f.Include
}

// Merge returns f with non-empty fields of o taken over.
func (f Filters) Merge(o *Filters) Filters {
	if o == nil {
		return f
	}
	out := f
	if len(o.Entities) > 0 {
		out.Entities = o.Entities
	}
	if len(o.Tags) > 0 {
		out.Tags = o.Tags
	}
	if len(o.Participants) > 0 {
		out.Participants = o.Participants
	}
	if o.MinRiskSeverity != "" {
		out.MinRiskSeverity = o.MinRiskSeverity
	}
	if o.Include != nil {
		inc := *o.Include
		out.Include = &inc
	}
	return out
}

// ConfigError reports a malformed schedule or profile.
type ConfigError struct {
	JobID     string
	ProfileID string
	Field     string
	Msg       string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("schedule config")
	if e.JobID != "" {
		b.WriteString(" job=")
		b.WriteString(e.JobID)
	}
	if e.ProfileID != "" {
		b.WriteString(" profile=")
		b.WriteString(e.ProfileID)
	}
	if e.Field != "" {
		b.WriteString(" ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	return b.String()
}
