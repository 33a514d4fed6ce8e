// Package lease implements a time-bounded, holder-tagged lock document on top
// of a blob store that has no native locking.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"digestfanout/internal/blobstore"
	"digestfanout/pkg/logx"
)

const (
	DocName = "cron_lock.json"
	Version = 1

	ReasonLocked = "locked"
	ReasonError  = "error"
)

// ErrLocked reports that another holder owns the lease.
var ErrLocked = errors.New("lease held by another holder")

// Lock is the persisted lease document.
type Lock struct {
	Version       int    `json:"version"`
	Holder        string `json:"holder"`
	AcquiredAtISO string `json:"acquiredAtISO"`
	LeaseUntilISO string `json:"leaseUntilISO"`
}

// LeaseUntil parses LeaseUntilISO. A malformed value reads as zero (expired).
func (l Lock) LeaseUntil() time.Time {
	t, err := time.Parse(time.RFC3339Nano, l.LeaseUntilISO)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Expired reports whether the lease is no longer valid at now.
func (l Lock) Expired(now time.Time) bool { return !now.Before(l.LeaseUntil()) }

// Result is the outcome of TryAcquire.
type Result struct {
	Acquired bool   `json:"acquired"`
	Reason   string `json:"reason,omitempty"`
	Lock     *Lock  `json:"lock,omitempty"`
}

// Locker manages one lock document.
type Locker struct {
	blobs blobstore.Store
	name  string
	log   logx.Logger
	now   func() time.Time

	// serializes acquire/release within this process
	mu sync.Mutex
}

type Option func(*Locker)

func WithClock(now func() time.Time) Option { return func(l *Locker) { l.now = now } }
func WithName(name string) Option          { return func(l *Locker) { l.name = name } }

func New(blobs blobstore.Store, log logx.Logger, opts ...Option) *Locker {
	l := &Locker{
		blobs: blobs,
		name:  DocName,
		log:   log.With(logx.String("comp", "lease")),
		now:   time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Read returns the current lock, or nil when none was ever written.
func (l *Locker) Read(ctx context.Context) (*Lock, error) {
	lk, _, err := l.read(ctx)
	return lk, err
}

func (l *Locker) read(ctx context.Context) (*Lock, blobstore.Ref, error) {
	b, ref, err := blobstore.ReadByName(ctx, l.blobs, l.name)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, blobstore.Ref{}, nil
	}
	if err != nil {
		return nil, blobstore.Ref{}, err
	}
	var lk Lock
	if err := json.Unmarshal(b, &lk); err != nil {
		// A corrupt lock is treated as expired so it can be reclaimed.
		l.log.Warn("lock document unreadable; treating as expired", logx.Err(err))
		return &Lock{}, ref, nil
	}
	return &lk, ref, nil
}

// TryAcquire takes the lease for holder when it is free, expired, or already
// owned by holder. Any store error yields Acquired=false; it never returns an
// error because a tick that cannot prove exclusivity must not run.
func (l *Locker) TryAcquire(ctx context.Context, holder string, lease time.Duration) Result {
	holder = strings.TrimSpace(holder)
	if holder == "" {
		return Result{Reason: ReasonError}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.tryAcquire(ctx, holder, lease)
	if err != nil {
		l.log.Warn("lock acquire failed", logx.String("holder", holder), logx.Err(err))
		return Result{Reason: ReasonError}
	}
	return res
}

func (l *Locker) tryAcquire(ctx context.Context, holder string, lease time.Duration) (Result, error) {
	now := l.now().UTC()
	cur, ref, err := l.read(ctx)
	if err != nil {
		return Result{}, err
	}
	if cur != nil && cur.Holder != holder && !cur.Expired(now) {
		return Result{Reason: ReasonLocked, Lock: cur}, nil
	}

	next := Lock{
		Version:       Version,
		Holder:        holder,
		AcquiredAtISO: now.Format(time.RFC3339Nano),
		LeaseUntilISO: now.Add(lease).Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(next)
	if err != nil {
		return Result{}, err
	}
	if cur == nil {
		if _, err := l.blobs.Create(ctx, l.name, body); err != nil {
			if errors.Is(err, blobstore.ErrExists) {
				return Result{Reason: ReasonLocked}, nil
			}
			return Result{}, fmt.Errorf("create lock: %w", err)
		}
	} else if err := l.blobs.Update(ctx, ref.ID, body); err != nil {
		return Result{}, fmt.Errorf("update lock: %w", err)
	}

	// Read back: a concurrent writer on another process may have won.
	got, _, err := l.read(ctx)
	if err != nil {
		return Result{}, err
	}
	if got == nil || got.Holder != holder {
		return Result{Reason: ReasonLocked, Lock: got}, nil
	}
	return Result{Acquired: true, Lock: got}, nil
}

// Release expires the lease into the past when holder still owns it.
// Releasing a lease held by someone else, or no lease at all, is a no-op.
func (l *Locker) Release(ctx context.Context, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ref, err := l.read(ctx)
	if err != nil {
		return err
	}
	if cur == nil || cur.Holder != holder {
		return nil
	}
	now := l.now().UTC()
	cur.Version = Version
	cur.LeaseUntilISO = now.Add(-time.Second).Format(time.RFC3339Nano)
	body, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	if err := l.blobs.Update(ctx, ref.ID, body); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
