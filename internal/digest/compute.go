package digest

import (
	"context"
	"fmt"
	"time"

	"digestfanout/internal/schedule"
)

// Window is the content interval of one run. Key is the stable textual form
// used in run keys.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
	Key  string    `json:"key"`
}

// RunKey identifies one job execution over one window.
func RunKey(jobID string, w Window) string { return jobID + ":" + w.Key }

// WindowFor derives the window of spec at now. Week-in-review windows are
// whole UTC days; alert windows are whole UTC hours. Re-running within the
// same day or hour yields the same window.
func WindowFor(spec schedule.Spec, now time.Time) Window {
	now = now.UTC()
	switch p := spec.(type) {
	case schedule.WeekInReviewParams:
		to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		from := to.AddDate(0, 0, -p.LookbackDays)
		return Window{From: from, To: to, Key: from.Format("2006-01-02") + ":" + to.Format("2006-01-02")}
	case schedule.AlertsParams:
		to := now.Truncate(time.Hour)
		from := to.Add(-time.Duration(p.LookbackHours) * time.Hour)
		return Window{From: from, To: to, Key: from.Format("2006-01-02T15Z") + ":" + to.Format("2006-01-02T15Z")}
	default:
		to := now.Truncate(time.Minute)
		return Window{From: to, To: to, Key: to.Format(time.RFC3339)}
	}
}

// Output is the result of a job's content computation.
type Output struct {
	JobID  string
	Spec   schedule.Spec
	Window Window
	Items  []Item
}

// NotifyInput is the projection every job type feeds into fanout.
type NotifyInput struct {
	JobType schedule.JobType
	Window  Window
	RunKey  string
	Empty   bool
	TopN    int
}

func (o Output) NotifyInput() NotifyInput {
	in := NotifyInput{JobType: o.Spec.Type(), Window: o.Window, RunKey: RunKey(o.JobID, o.Window), Empty: len(o.Items) == 0}
	switch p := o.Spec.(type) {
	case schedule.WeekInReviewParams:
		in.TopN = p.TopN
	case schedule.AlertsParams:
		in.TopN = p.TopN
	}
	return in
}

// Computer runs the content step of a job.
type Computer interface {
	Compute(ctx context.Context, job schedule.Job, spec schedule.Spec, now time.Time) (Output, error)
}

// SourceComputer computes output from a Source.
type SourceComputer struct {
	Source  Source
	Aliases *schedule.Aliases
}

func (c SourceComputer) Compute(ctx context.Context, job schedule.Job, spec schedule.Spec, now time.Time) (Output, error) {
	w := WindowFor(spec, now)
	items, err := c.Source.Items(ctx, w.From, w.To)
	if err != nil {
		return Output{}, fmt.Errorf("compute %s: %w", job.ID, err)
	}
	f := schedule.NormalizeFilters(spec.Filters(), c.Aliases)
	if a, ok := spec.(schedule.AlertsParams); ok {
		inc := schedule.Include{Risks: true}
		f.Include = &inc
		if f.MinRiskSeverity == "" {
			f.MinRiskSeverity = a.MinSeverity
		}
	}
	return Output{JobID: job.ID, Spec: spec, Window: w, Items: Filter(items, f)}, nil
}
