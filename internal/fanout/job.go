package fanout

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"digestfanout/internal/breaker"
	"digestfanout/internal/channel"
	"digestfanout/internal/digest"
	"digestfanout/internal/schedule"
	"digestfanout/pkg/logx"
)

const recipientBroadcast = "broadcast"

// reportBudget caps per-route reports within one job run.
type reportBudget struct {
	max  int // 0 = unlimited
	used int
}

func (b *reportBudget) take() bool {
	if b.max > 0 && b.used >= b.max {
		return false
	}
	b.used++
	return true
}

// jobRun is the mutable state of one job within a tick.
type jobRun struct {
	o       *Orchestrator
	job     schedule.Job
	notify  *schedule.Notify
	out     digest.Output
	runKey  string
	state   *breaker.State
	aliases *schedule.Aliases
	budget  *reportBudget
	log     logx.Logger
	res     *JobResult
}

func (o *Orchestrator) runJob(ctx context.Context, job schedule.Job, cfg *schedule.Config, aliases *schedule.Aliases, state *breaker.State, now time.Time) JobResult {
	ctx, span := o.d.Tracer.Start(ctx, "fanout.job", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
	))
	defer span.End()

	jr := JobResult{JobID: job.ID, Type: string(job.Type)}
	log := o.log.With(logx.String("job", job.ID), logx.String("type", string(job.Type)))

	if err := schedule.ValidateJob(job); err != nil {
		log.Warn("job skipped: invalid config", logx.Err(err))
		jr.Error = err.Error()
		span.SetStatus(codes.Error, "config")
		return jr
	}
	spec, _ := job.Spec()

	out, err := o.compute(ctx, job, spec, aliases, now)
	if err != nil {
		log.Error("job computation failed", logx.Err(err))
		jr.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "compute")
		return jr
	}
	in := out.NotifyInput()
	jr.OK = true
	jr.RunKey = in.RunKey
	span.SetAttributes(attribute.String("job.run_key", in.RunKey), attribute.Int("job.items", len(out.Items)))

	if job.Notify == nil || !job.Notify.Enabled {
		log.Debug("notify disabled", logx.String("run_key", in.RunKey))
		return jr
	}

	maxReports := job.Notify.MaxPerRouteReportsPerRun
	if maxReports == 0 {
		maxReports = o.d.MaxRouteReportsPerRun
	}
	r := &jobRun{
		o:       o,
		job:     job,
		notify:  job.Notify,
		out:     out,
		runKey:  in.RunKey,
		state:   state,
		aliases: aliases,
		budget:  &reportBudget{max: maxReports},
		log:     log.With(logx.String("run_key", in.RunKey)),
		res:     &jr,
	}
	switch job.Notify.EffectiveMode() {
	case schedule.ModeRoutes:
		r.routes(ctx, cfg)
	default:
		r.broadcast(ctx)
	}
	log.Info("job done",
		logx.Int("sent", jr.Counts.Sent),
		logx.Int("skipped", jr.Counts.Skipped),
		logx.Int("failed", jr.Counts.Failed),
	)
	return jr
}

// compute runs the content step; a panic there fails the job, not the tick.
func (o *Orchestrator) compute(ctx context.Context, job schedule.Job, spec schedule.Spec, aliases *schedule.Aliases, now time.Time) (out digest.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s computation: %v", job.Type, r)
		}
	}()
	c := o.d.Computer
	if c == nil {
		c = digest.SourceComputer{Source: digest.BlobSource{Blobs: o.d.Blobs}, Aliases: aliases}
	}
	return c.Compute(ctx, job, spec, now)
}

func (r *jobRun) broadcast(ctx context.Context) {
	d := digest.Build(r.out, nil, schedule.Filters{})
	n := r.notify
	if d.Empty && !n.SendWhenEmpty {
		r.skip(channel.Email, recipientBroadcast, "", "empty")
		if len(n.Email.To) > 0 {
			er := emailSkipped("empty")
			r.res.Email = &er
		}
		return
	}

	if len(n.Email.To) > 0 {
		msg := channel.EmailMessage{To: n.Email.To, CC: n.Email.CC, Subject: d.Subject, Body: d.Body}
		oc := r.sendEmail(ctx, recipientBroadcast, msg)
		r.res.Email = oc.emailResult()
	}
	r.chat(ctx, schedule.ModeBroadcast, recipientBroadcast, d, "")
}

func (r *jobRun) routes(ctx context.Context, cfg *schedule.Config) {
	n := r.notify
	for _, route := range n.Routes {
		prof, ok := cfg.Profile(route.ProfileID)
		if !ok {
			r.fail(deliveryKey{Channel: "route", RecipientKey: route.ProfileID}, 0, nil,
				fmt.Sprintf("profile %q not found in recipientProfiles", route.ProfileID))
			continue
		}
		prof = schedule.NormalizeProfile(prof, r.aliases)
		f := schedule.NormalizeFilters(prof.Filters.Merge(route.Filters), r.aliases)
		d := digest.Build(r.out, &prof, f)
		if d.Empty && !n.SendWhenEmpty {
			r.skip("route", prof.ID, "", "empty")
			continue
		}

		report := ""
		if route.GenerateReport {
			report = r.report(ctx, prof.ID, d)
		}
		body := d.Body
		if report != "" {
			body += "\n---\nFull report: `" + report + "`\n"
		}

		if len(prof.To) > 0 && !n.Email.Disabled {
			msg := channel.EmailMessage{To: prof.To, CC: prof.CC, Subject: d.Subject, Body: body}
			r.sendEmail(ctx, prof.ID, msg)
		}
		r.chat(ctx, schedule.ModeRoutes, prof.ID, d, report)
	}
}

// report generates the per-profile report once per run, within the budget.
// It returns the report name to attach, or "".
func (r *jobRun) report(ctx context.Context, profileID string, d digest.Digest) string {
	markers := r.o.markers
	exists, err := markers.ReportExists(ctx, r.runKey, profileID)
	if err != nil {
		r.warn(fmt.Sprintf("report marker check failed for %s: %v", profileID, err))
		return ""
	}
	if exists {
		return digest.ReportName(r.runKey, profileID)
	}
	if !r.budget.take() {
		r.log.Info("report cap reached", logx.String("profile", profileID), logx.Int("max", r.budget.max))
		return ""
	}
	name, err := r.o.reporter.Write(ctx, r.runKey, profileID, d, r.o.d.Now())
	if err != nil {
		r.warn(fmt.Sprintf("report for %s: %v", profileID, err))
		return ""
	}
	if err := markers.WriteReport(ctx, r.runKey, profileID, name); err != nil {
		r.warn(fmt.Sprintf("report marker for %s: %v", profileID, err))
	}
	return name
}

// chat fans d out to the slack and webhook targets of mode.
func (r *jobRun) chat(ctx context.Context, mode, recipientKey string, d digest.Digest, report string) {
	text := digest.PlainText(d)
	for _, key := range r.notify.Slack.For(mode) {
		k := deliveryKey{Channel: channel.Slack, RecipientKey: recipientKey, TargetKey: key}
		url, ok := r.o.d.Resolver.ResolveTarget(channel.Slack, key)
		if !ok {
			r.missingSecret(k)
			continue
		}
		r.deliver(ctx, k, func(ctx context.Context) (channel.Receipt, error) {
			return channel.Receipt{}, r.o.d.Senders.Slack.PostSlack(ctx, url, text)
		})
	}

	payload := map[string]any{
		"jobId":   r.job.ID,
		"type":    string(r.job.Type),
		"runKey":  r.runKey,
		"subject": d.Subject,
		"body":    d.Body,
		"empty":   d.Empty,
		"stats":   d.Stats,
		"links":   d.Links,
	}
	if recipientKey != recipientBroadcast {
		payload["profileId"] = recipientKey
	}
	if report != "" {
		payload["report"] = report
	}
	for _, key := range r.notify.Webhook.For(mode) {
		k := deliveryKey{Channel: channel.Webhook, RecipientKey: recipientKey, TargetKey: key}
		url, ok := r.o.d.Resolver.ResolveTarget(channel.Webhook, key)
		if !ok {
			r.missingSecret(k)
			continue
		}
		r.deliver(ctx, k, func(ctx context.Context) (channel.Receipt, error) {
			return channel.Receipt{}, r.o.d.Senders.Webhook.PostWebhook(ctx, url, payload)
		})
	}
}

func (r *jobRun) sendEmail(ctx context.Context, recipientKey string, msg channel.EmailMessage) outcome {
	k := deliveryKey{Channel: channel.Email, RecipientKey: recipientKey}
	return r.deliver(ctx, k, func(ctx context.Context) (channel.Receipt, error) {
		return r.o.d.Senders.Email.SendEmail(ctx, msg)
	})
}
