package fanout

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"digestfanout/internal/breaker"
	"digestfanout/internal/channel"
	"digestfanout/internal/eventbus"
	"digestfanout/internal/marker"
	"digestfanout/internal/retry"
	"digestfanout/internal/runlog"
	"digestfanout/pkg/logx"
)

const (
	skipAlreadySent = "already_sent"
	skipMissing     = "missing_secret"

	maxFailureMessage = 200
)

// errMissingSecret is a permanent failure for a target with no configured URL.
var errMissingSecret = errors.New("no destination configured for target key")

type deliveryKey struct {
	Channel      string
	RecipientKey string
	TargetKey    string
}

func (k deliveryKey) target() breaker.Target {
	return breaker.Target{Channel: k.Channel, TargetKey: k.TargetKey, RecipientKey: k.RecipientKey}
}

// outcome is what happened to one logical send.
type outcome struct {
	sent      bool
	skipped   bool
	reason    string
	attempts  int
	messageID string
	warning   string
	err       *retry.ClassifiedError
}

func (oc outcome) emailResult() *runlog.EmailResult {
	er := &runlog.EmailResult{
		Attempted: oc.attempts > 0,
		Sent:      oc.sent,
		Skipped:   oc.skipped,
		Reason:    oc.reason,
		MessageID: oc.messageID,
		Attempts:  oc.attempts,
		Warning:   oc.warning,
	}
	if oc.err != nil && er.Reason == "" {
		er.Reason = clip(oc.err.Error(), maxFailureMessage)
	}
	return er
}

func emailSkipped(reason string) runlog.EmailResult {
	return runlog.EmailResult{Skipped: true, Reason: reason}
}

// deliver runs one logical send through the breaker, the marker check and the
// retry loop, and records the outcome on the job result.
func (r *jobRun) deliver(ctx context.Context, k deliveryKey, send func(ctx context.Context) (channel.Receipt, error)) outcome {
	o := r.o
	now := o.d.Now()
	t := k.target()
	log := r.log.With(logx.String("channel", k.Channel), logx.String("recipient", k.RecipientKey), logx.String("target", k.TargetKey))

	if st := breaker.GetCircuitState(r.state, t, now); st.Muted {
		log.Debug("send skipped: circuit muted", logx.String("until", st.MutedUntilISO))
		return r.skip(k.Channel, k.RecipientKey, k.TargetKey, st.Reason)
	}

	mk := marker.Key{Channel: k.Channel, RunKey: r.runKey, RecipientKey: k.RecipientKey, TargetKey: k.TargetKey}
	exists, err := o.markers.Exists(ctx, mk)
	if err != nil {
		log.Warn("marker check failed", logx.Err(err))
		ce := retry.Classify(err)
		r.fail(k, 0, ce, "marker check: "+err.Error())
		return outcome{err: ce}
	}
	if exists {
		return r.skip(k.Channel, k.RecipientKey, k.TargetKey, skipAlreadySent)
	}

	res := retry.Do(ctx, o.d.Retry, func(ctx context.Context) (channel.Receipt, error) {
		if o.d.CallTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.d.CallTimeout)
			defer cancel()
		}
		return send(ctx)
	})

	if !res.OK() {
		log.Warn("send failed",
			logx.Int("attempts", res.Attempts),
			logx.String("kind", string(res.Err.Kind)),
			logx.Int("status", res.Err.Status),
			logx.String("error", clip(res.Err.Message, maxFailureMessage)),
		)
		r.fail(k, res.Attempts, res.Err, res.Err.Error())
		st := breaker.RecordSendFailure(r.state, t, res.Err, o.d.Now())
		if st.Muted {
			log.Warn("target muted", logx.String("until", st.MutedUntilISO))
			o.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeBreakerMuted, Data: eventbus.BreakerEvent{
				Channel: k.Channel, Key: t.String(), MutedUntilISO: st.MutedUntilISO,
			}})
		}
		return outcome{attempts: res.Attempts, err: res.Err}
	}

	oc := outcome{sent: true, attempts: res.Attempts, messageID: res.Value.ID}
	r.res.Counts.Sent++
	details := marker.Details{
		Channel:      k.Channel,
		RunKey:       r.runKey,
		RecipientKey: k.RecipientKey,
		TargetKey:    k.TargetKey,
		SentAtISO:    o.d.Now().UTC().Format(time.RFC3339),
		MessageID:    res.Value.ID,
		Attempts:     res.Attempts,
	}
	if err := o.markers.Write(context.WithoutCancel(ctx), mk, details); err != nil {
		oc.warning = "marker write failed: " + clip(err.Error(), maxFailureMessage)
		r.warn(k.Channel + " " + k.RecipientKey + ": " + oc.warning)
	}
	breaker.RecordSendSuccess(r.state, t)
	log.Info("sent", logx.Int("attempts", res.Attempts), logx.String("id", res.Value.ID))
	r.publishSend(k, eventbus.SendSent, "", res.Attempts)
	return oc
}

// missingSecret fails a target whose URL is not configured. The breaker is
// not touched: retries cannot fix configuration.
func (r *jobRun) missingSecret(k deliveryKey) {
	r.log.Warn("no destination for target key", logx.String("channel", k.Channel), logx.String("target", k.TargetKey))
	ce := retry.Classify(retry.NoRetry(errMissingSecret))
	ce.Code = skipMissing
	r.fail(k, 0, ce, errMissingSecret.Error()+" "+k.TargetKey)
}

func (r *jobRun) skip(ch, recipientKey, targetKey, reason string) outcome {
	r.res.Counts.Skipped++
	r.publishSend(deliveryKey{Channel: ch, RecipientKey: recipientKey, TargetKey: targetKey}, eventbus.SendSkipped, reason, 0)
	return outcome{skipped: true, reason: reason}
}

func (r *jobRun) fail(k deliveryKey, attempts int, ce *retry.ClassifiedError, msg string) {
	r.res.Counts.Failed++
	f := runlog.Failure{
		Channel:      k.Channel,
		RecipientKey: k.RecipientKey,
		TargetKey:    k.TargetKey,
		Message:      clip(msg, maxFailureMessage),
		Attempts:     attempts,
	}
	if ce != nil {
		f.Kind = string(ce.Kind)
		f.Status = ce.Status
	}
	r.res.Failures = append(r.res.Failures, f)
	r.publishSend(k, eventbus.SendFailed, f.Kind, attempts)
}

func (r *jobRun) warn(msg string) {
	r.res.Warnings = append(r.res.Warnings, clip(msg, maxFailureMessage))
}

func (r *jobRun) publishSend(k deliveryKey, outcome, reason string, attempts int) {
	r.o.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeSend, Data: eventbus.SendEvent{
		JobID:        r.job.ID,
		Channel:      k.Channel,
		RecipientKey: k.RecipientKey,
		TargetKey:    k.TargetKey,
		Outcome:      outcome,
		Reason:       reason,
		Attempts:     attempts,
	}})
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
