package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"digestfanout/internal/breaker"
	"digestfanout/internal/cronexpr"
	"digestfanout/internal/lease"
	"digestfanout/internal/runlog"
	"digestfanout/internal/schedule"
	"digestfanout/pkg/logx"
)

// NextRun is the next due time of one enabled job.
type NextRun struct {
	JobID   string `json:"jobId"`
	Cron    string `json:"cron"`
	NextISO string `json:"nextISO,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Status is a read-only view of the scheduler state.
type Status struct {
	NowISO   string          `json:"nowISO"`
	Lock     *lease.Lock     `json:"lock,omitempty"`
	LockHeld bool            `json:"lockHeld"`
	Muted    []breaker.Entry `json:"muted"`
	Next     []NextRun       `json:"next"`
	Tail     []runlog.Entry  `json:"tail"`
	Errors   []string        `json:"errors,omitempty"`
}

// Status reads the lease, breaker mutes, upcoming runs and the recent run tail.
// Read failures are reported in Errors rather than failing the call.
func (o *Orchestrator) Status(ctx context.Context, tail int) Status {
	now := o.d.Now()
	st := Status{NowISO: now.UTC().Format(time.RFC3339), Muted: []breaker.Entry{}, Next: []NextRun{}, Tail: []runlog.Entry{}}

	if lk, err := o.locker.Read(ctx); err != nil {
		st.Errors = append(st.Errors, "lock: "+err.Error())
	} else if lk != nil {
		st.Lock = lk
		st.LockHeld = !lk.Expired(now)
	}

	if bs, err := breaker.Load(ctx, o.d.Blobs); err != nil {
		st.Errors = append(st.Errors, "breakers: "+err.Error())
	} else if m := breaker.Muted(bs, now); len(m) > 0 {
		st.Muted = m
	}

	if cfg, err := schedule.Load(ctx, o.d.Blobs); err != nil {
		st.Errors = append(st.Errors, "schedule: "+err.Error())
	} else {
		_, zoned := o.d.Evaluator.(cronexpr.Zoned)
		for _, j := range cfg.Jobs {
			if !j.Enabled {
				continue
			}
			nr := NextRun{JobID: j.ID, Cron: j.Schedule.Cron}
			next, err := cronexpr.Next(j.Schedule.Cron, j.Schedule.Timezone, now, zoned)
			if err != nil {
				nr.Error = err.Error()
			} else {
				nr.NextISO = next.UTC().Format(time.RFC3339)
			}
			st.Next = append(st.Next, nr)
		}
	}

	if tail <= 0 {
		tail = 20
	}
	if entries, err := o.runs.ReadTail(ctx, tail); err != nil {
		st.Errors = append(st.Errors, "runs: "+err.Error())
	} else if entries != nil {
		st.Tail = entries
	}
	return st
}

// ErrUnmuteTarget is returned for an unmute request without channel or key.
var ErrUnmuteTarget = errors.New("channel and key are required")

// Unmute clears the mute of one target. It takes the lease so it cannot race
// a running tick, and returns lease.ErrLocked when a tick holds it.
// The bool reports whether the target was known.
func (o *Orchestrator) Unmute(ctx context.Context, ch, key string) (bool, error) {
	if ch == "" || key == "" {
		return false, ErrUnmuteTarget
	}
	holder := "unmute-" + uuid.NewString()
	lr := o.locker.TryAcquire(ctx, holder, time.Minute)
	if !lr.Acquired {
		return false, lease.ErrLocked
	}
	defer func() {
		if err := o.locker.Release(context.WithoutCancel(ctx), holder); err != nil {
			o.log.Warn("lease release failed", logx.Err(err))
		}
	}()

	st, err := breaker.Load(ctx, o.d.Blobs)
	if err != nil {
		return false, fmt.Errorf("load breakers: %w", err)
	}
	known := breaker.UnmuteTarget(st, breaker.Target{Channel: ch, TargetKey: key})
	if !known {
		return false, nil
	}
	if err := breaker.Save(ctx, o.d.Blobs, st, o.d.Now()); err != nil {
		return true, fmt.Errorf("save breakers: %w", err)
	}
	o.log.Info("target unmuted", logx.String("channel", ch), logx.String("key", key))
	return true, nil
}

// Month returns the run entries of one YYYYMM shard.
func (o *Orchestrator) Month(ctx context.Context, yyyymm string) ([]runlog.Entry, error) {
	return o.runs.ReadMonth(ctx, yyyymm)
}
