package schedule

import (
	"fmt"
	"regexp"
	"strings"

	"digestfanout/internal/cronexpr"
)

var targetKeyRe = regexp.MustCompile(`^[A-Z0-9_]+$`)

// ValidTargetKey reports whether k may name an env-backed secret.
func ValidTargetKey(k string) bool { return targetKeyRe.MatchString(k) }

// ValidateJob checks what the orchestrator needs to run j at all. Route
// profile references are not checked here; a dangling route fails alone.
func ValidateJob(j Job) error {
	if strings.TrimSpace(j.ID) == "" {
		return &ConfigError{Field: "id", Msg: "job id is empty"}
	}
	if _, err := j.Spec(); err != nil {
		return err
	}
	if j.Notify != nil {
		switch j.Notify.EffectiveMode() {
		case ModeBroadcast, ModeRoutes:
		default:
			return &ConfigError{JobID: j.ID, Field: "notify.mode", Msg: fmt.Sprintf("unknown mode %q", j.Notify.Mode)}
		}
		if j.Notify.MaxPerRouteReportsPerRun < 0 {
			return &ConfigError{JobID: j.ID, Field: "notify.maxPerRouteReportsPerRun", Msg: "must be >= 0"}
		}
	}
	return nil
}

// Validate checks the whole document and returns every problem found.
func Validate(c *Config) []*ConfigError {
	var out []*ConfigError
	add := func(err error) {
		if ce, ok := err.(*ConfigError); ok {
			out = append(out, ce)
		} else if err != nil {
			out = append(out, &ConfigError{Msg: err.Error()})
		}
	}

	profiles := map[string]bool{}
	for _, p := range c.RecipientProfiles {
		id := strings.TrimSpace(p.ID)
		switch {
		case id == "":
			add(&ConfigError{Field: "recipientProfiles.id", Msg: "profile id is empty"})
		case profiles[id]:
			add(&ConfigError{ProfileID: id, Field: "id", Msg: "duplicate profile id"})
		}
		profiles[id] = true
		if len(p.To) == 0 {
			add(&ConfigError{ProfileID: id, Field: "to", Msg: "profile has no recipients"})
		}
		if s := p.Filters.MinRiskSeverity; s != "" && SeverityRank(s) == 0 {
			add(&ConfigError{ProfileID: id, Field: "filters.minRiskSeverity", Msg: fmt.Sprintf("unknown severity %q", s)})
		}
	}

	jobs := map[string]bool{}
	for _, j := range c.Jobs {
		if err := ValidateJob(j); err != nil {
			add(err)
			continue
		}
		if jobs[j.ID] {
			add(&ConfigError{JobID: j.ID, Field: "id", Msg: "duplicate job id"})
		}
		jobs[j.ID] = true
		if err := cronexpr.Validate(j.Schedule.Cron); err != nil {
			add(&ConfigError{JobID: j.ID, Field: "schedule.cron", Msg: err.Error()})
		}
		n := j.Notify
		if n == nil {
			continue
		}
		for _, k := range append(append([]string{}, n.Slack.Targets...), n.Slack.RoutesTargets...) {
			if !ValidTargetKey(k) {
				add(&ConfigError{JobID: j.ID, Field: "notify.slack", Msg: fmt.Sprintf("invalid target key %q", k)})
			}
		}
		for _, k := range append(append([]string{}, n.Webhook.Targets...), n.Webhook.RoutesTargets...) {
			if !ValidTargetKey(k) {
				add(&ConfigError{JobID: j.ID, Field: "notify.webhook", Msg: fmt.Sprintf("invalid target key %q", k)})
			}
		}
		switch n.EffectiveMode() {
		case ModeRoutes:
			if len(n.Routes) == 0 {
				add(&ConfigError{JobID: j.ID, Field: "notify.routes", Msg: "routes mode without routes"})
			}
			for _, r := range n.Routes {
				if !profiles[r.ProfileID] {
					add(&ConfigError{JobID: j.ID, ProfileID: r.ProfileID, Field: "notify.routes", Msg: "route references unknown profile"})
				}
			}
		case ModeBroadcast:
			if n.Enabled && len(n.Email.To) == 0 && len(n.Slack.Targets) == 0 && len(n.Webhook.Targets) == 0 {
				add(&ConfigError{JobID: j.ID, Field: "notify", Msg: "broadcast has no recipients"})
			}
		}
	}
	return out
}
