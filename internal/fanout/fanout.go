// Package fanout runs one scheduler tick: it takes the lease, evaluates every
// job, computes content, and fans digests out to email, chat and webhook
// destinations with breaker, marker and retry bookkeeping per destination.
//
// A tick moves through:
//
//	preflight -> lock -> (skipped | running) -> finalizing -> done
//
// Per-destination failures are data (counts, failures[]); only preflight and
// schedule-document failures fail the tick.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"digestfanout/internal/blobstore"
	"digestfanout/internal/breaker"
	"digestfanout/internal/channel"
	"digestfanout/internal/cronexpr"
	"digestfanout/internal/digest"
	"digestfanout/internal/eventbus"
	"digestfanout/internal/lease"
	"digestfanout/internal/marker"
	"digestfanout/internal/retry"
	"digestfanout/internal/runlog"
	"digestfanout/internal/schedule"
	"digestfanout/pkg/logx"
)

const (
	ReasonLocked      = "locked"
	ReasonAuth        = "auth"
	ReasonConfig      = "config"
	ReasonJobNotFound = "job_not_found"

	DefaultLease = 10 * time.Minute
)

// TargetResolver maps a (channel, key) pair to a destination URL.
type TargetResolver interface {
	ResolveTarget(channel, key string) (string, bool)
}

// Deps are the collaborators of an Orchestrator. Only Blobs is required.
type Deps struct {
	Blobs    blobstore.Store
	Senders  channel.Senders
	Resolver TargetResolver

	// Computer overrides the default blob-backed content computation.
	Computer  digest.Computer
	Evaluator cronexpr.Evaluator

	Bus    eventbus.Bus
	Log    logx.Logger
	Tracer trace.Tracer
	Now    func() time.Time

	Retry        retry.Policy
	CallTimeout  time.Duration
	Lease        time.Duration
	MaxTailLines int
	// MaxRouteReportsPerRun applies to jobs that set no cap of their own.
	MaxRouteReportsPerRun int

	// Authenticate is the preflight identity check. Nil means none.
	Authenticate func(ctx context.Context) error
}

// Options narrow a tick.
type Options struct {
	// JobID runs only this job.
	JobID string
	// Force runs selected jobs regardless of their cron.
	Force bool
}

// JobResult is the outcome of one job within a tick.
type JobResult struct {
	JobID    string              `json:"jobId"`
	Type     string              `json:"type"`
	OK       bool                `json:"ok"`
	RunKey   string              `json:"runKey,omitempty"`
	Counts   runlog.Counts       `json:"counts"`
	Email    *runlog.EmailResult `json:"email,omitempty"`
	Failures []runlog.Failure    `json:"failures,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
	Error    string              `json:"error,omitempty"`
	Duration time.Duration       `json:"-"`
}

// Result is returned to the trigger caller. OK is false only when the tick
// itself could not run; per-job outcomes are in RanJobs.
type Result struct {
	OK      bool        `json:"ok"`
	Skipped bool        `json:"skipped,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	RanJobs []JobResult `json:"ranJobs"`
}

type Orchestrator struct {
	d        Deps
	log      logx.Logger
	locker   *lease.Locker
	markers  *marker.Store
	runs     *runlog.Log
	reporter digest.Reporter
}

func New(d Deps) *Orchestrator {
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("digestfanout/fanout")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Evaluator == nil {
		d.Evaluator = cronexpr.UTC{}
	}
	if d.Lease <= 0 {
		d.Lease = DefaultLease
	}
	if d.Resolver == nil {
		d.Resolver = channel.NewResolver()
	}
	if d.Senders.Email == nil {
		d.Senders.Email = channel.LogSender{Log: d.Log}
	}
	if d.Senders.Slack == nil || d.Senders.Webhook == nil {
		p := channel.NewHTTPPoster(d.CallTimeout)
		if d.Senders.Slack == nil {
			d.Senders.Slack = p
		}
		if d.Senders.Webhook == nil {
			d.Senders.Webhook = p
		}
	}
	log := d.Log.With(logx.String("comp", "fanout"))
	return &Orchestrator{
		d:        d,
		log:      log,
		locker:   lease.New(d.Blobs, d.Log, lease.WithClock(d.Now)),
		markers:  marker.New(d.Blobs),
		runs:     runlog.New(d.Blobs, d.Log, d.MaxTailLines),
		reporter: digest.Reporter{Blobs: d.Blobs},
	}
}

// Runs exposes the run log for read surfaces.
func (o *Orchestrator) Runs() *runlog.Log { return o.runs }

// Tick runs one scheduler pass. It never returns an error: every outcome is
// described by the Result.
func (o *Orchestrator) Tick(ctx context.Context, opts Options) Result {
	start := o.d.Now()
	ctx, span := o.d.Tracer.Start(ctx, "fanout.tick", trace.WithAttributes(
		attribute.String("fanout.job_filter", opts.JobID),
		attribute.Bool("fanout.force", opts.Force),
	))
	defer span.End()

	if err := o.preflight(ctx); err != nil {
		o.log.Error("tick preflight failed", logx.Err(err))
		span.SetStatus(codes.Error, "preflight")
		jr := JobResult{JobID: ReasonAuth, Type: ReasonAuth, OK: false, Error: err.Error()}
		o.appendRun(ctx, jr, start, false)
		o.publishTick(eventbus.TickFailed, ReasonAuth, 0, start)
		return Result{OK: false, Reason: ReasonAuth, RanJobs: []JobResult{jr}}
	}

	holder := uuid.NewString()
	lr := o.locker.TryAcquire(ctx, holder, o.d.Lease)
	if !lr.Acquired {
		o.log.Info("tick skipped; lease not acquired", logx.String("why", lr.Reason))
		span.SetAttributes(attribute.Bool("fanout.skipped", true))
		o.publishTick(eventbus.TickSkipped, ReasonLocked, 0, start)
		return Result{OK: true, Skipped: true, Reason: ReasonLocked, RanJobs: []JobResult{}}
	}
	// Cleanup must run even when ctx is already cancelled.
	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := o.locker.Release(cleanupCtx, holder); err != nil {
			o.log.Warn("lease release failed", logx.Err(err))
		}
	}()

	state, stateOK := o.loadBreakers(ctx)
	defer func() {
		if !stateOK {
			return
		}
		if err := breaker.Save(cleanupCtx, o.d.Blobs, state, o.d.Now()); err != nil {
			o.log.Warn("breaker state save failed", logx.Err(err))
		}
	}()

	res := o.runJobs(ctx, opts, state)
	outcome := eventbus.TickRan
	if !res.OK {
		outcome = eventbus.TickFailed
		span.SetStatus(codes.Error, res.Reason)
	}
	o.publishTick(outcome, res.Reason, len(res.RanJobs), start)
	return res
}

func (o *Orchestrator) preflight(ctx context.Context) error {
	if o.d.Blobs == nil {
		return errors.New("no blob store configured")
	}
	if o.d.Authenticate != nil {
		if err := o.d.Authenticate(ctx); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}
	if err := blobstore.Provision(ctx, o.d.Blobs); err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	return nil
}

// loadBreakers returns the state and whether it may be written back. A state
// that failed to load is not saved so a read error cannot wipe mutes.
func (o *Orchestrator) loadBreakers(ctx context.Context) (*breaker.State, bool) {
	st, err := breaker.Load(ctx, o.d.Blobs)
	if err != nil {
		o.log.Warn("breaker state load failed; running without persisted mutes", logx.Err(err))
		return breaker.NewState(), false
	}
	return st, true
}

func (o *Orchestrator) runJobs(ctx context.Context, opts Options, state *breaker.State) Result {
	cfg, err := schedule.Load(ctx, o.d.Blobs)
	if err != nil {
		o.log.Error("schedule config unreadable", logx.Err(err))
		jr := JobResult{JobID: "schedule", Type: ReasonConfig, Error: err.Error()}
		o.appendRun(ctx, jr, o.d.Now(), false)
		return Result{OK: false, Reason: ReasonConfig, RanJobs: []JobResult{jr}}
	}
	aliases, err := schedule.LoadAliases(ctx, o.d.Blobs)
	if err != nil {
		o.log.Warn("content aliases unreadable; using none", logx.Err(err))
	}

	if opts.JobID != "" {
		if _, ok := cfg.Job(opts.JobID); !ok {
			return Result{OK: false, Reason: ReasonJobNotFound, RanJobs: []JobResult{}}
		}
	}

	now := o.d.Now()
	res := Result{OK: true, RanJobs: []JobResult{}}
	for _, job := range cfg.Jobs {
		if opts.JobID != "" && job.ID != opts.JobID {
			continue
		}
		if !job.Enabled {
			continue
		}
		if !opts.Force && !o.d.Evaluator.IsDue(job.Schedule.Cron, job.Schedule.Timezone, now) {
			continue
		}
		started := o.d.Now()
		jr := o.runJob(ctx, job, cfg, aliases, state, now)
		jr.Duration = o.d.Now().Sub(started)
		o.appendRun(ctx, jr, started, opts.Force)
		o.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeJob, Data: eventbus.JobEvent{
			JobID: jr.JobID, Type: jr.Type, OK: jr.OK, Duration: jr.Duration,
			Sent: jr.Counts.Sent, Skipped: jr.Counts.Skipped, Failed: jr.Counts.Failed,
		}})
		res.RanJobs = append(res.RanJobs, jr)
	}
	return res
}

func (o *Orchestrator) appendRun(ctx context.Context, jr JobResult, started time.Time, forced bool) {
	e := runlog.Entry{
		TsISO:      started.UTC().Format(time.RFC3339),
		JobID:      jr.JobID,
		Type:       jr.Type,
		OK:         jr.OK,
		DurationMs: jr.Duration.Milliseconds(),
		RunKey:     jr.RunKey,
		Forced:     forced,
		Email:      jr.Email,
		Counts:     jr.Counts,
		Failures:   jr.Failures,
		Warnings:   jr.Warnings,
		Error:      jr.Error,
	}
	if err := o.runs.Append(context.WithoutCancel(ctx), e); err != nil {
		o.log.Warn("run log append failed", logx.String("job", jr.JobID), logx.Err(err))
	}
}

func (o *Orchestrator) publishTick(outcome, reason string, jobs int, start time.Time) {
	o.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeTick, Data: eventbus.TickEvent{
		Outcome: outcome, Reason: reason, Jobs: jobs, Duration: o.d.Now().Sub(start),
	}})
}
