// Package runlog keeps one JSON line per job run.
//
// Each append goes to a monthly shard (job_runs_YYYYMM.jsonl, pure append) and
// to a bounded tail (job_runs_tail.jsonl, rewritten) used for fast status
// reads. The legacy single file job_runs.jsonl is read when neither exists.
package runlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"digestfanout/internal/blobstore"
	"digestfanout/pkg/logx"
)

const (
	TailName   = "job_runs_tail.jsonl"
	LegacyName = "job_runs.jsonl"

	DefaultMaxTailLines = 200
	TailByteGuard       = 512 * 1024
)

var monthRe = regexp.MustCompile(`^\d{6}$`)

// ErrBadMonth is returned for a month key that is not YYYYMM.
var ErrBadMonth = errors.New("month must be YYYYMM")

// Counts aggregates per-send outcomes of one job run.
type Counts struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Failure is one failed destination within a run.
type Failure struct {
	Channel      string `json:"channel"`
	RecipientKey string `json:"recipientKey,omitempty"`
	TargetKey    string `json:"targetKey,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Status       int    `json:"status,omitempty"`
	Message      string `json:"message"`
	Attempts     int    `json:"attempts,omitempty"`
}

// EmailResult summarizes the broadcast email send.
type EmailResult struct {
	Attempted bool   `json:"attempted"`
	Sent      bool   `json:"sent"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// Entry is one run outcome.
type Entry struct {
	TsISO      string       `json:"tsISO"`
	JobID      string       `json:"jobId"`
	Type       string       `json:"type"`
	OK         bool         `json:"ok"`
	DurationMs int64        `json:"durationMs"`
	RunKey     string       `json:"runKey,omitempty"`
	Forced     bool         `json:"forced,omitempty"`
	Email      *EmailResult `json:"email,omitempty"`
	Counts     Counts       `json:"counts"`
	Failures   []Failure    `json:"failures,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Log appends and reads run entries.
type Log struct {
	blobs        blobstore.Store
	log          logx.Logger
	maxTailLines int
}

func New(blobs blobstore.Store, log logx.Logger, maxTailLines int) *Log {
	if maxTailLines <= 0 {
		maxTailLines = DefaultMaxTailLines
	}
	return &Log{blobs: blobs, log: log.With(logx.String("comp", "runlog")), maxTailLines: maxTailLines}
}

// MonthName returns the shard name for t.
func MonthName(t time.Time) string {
	return "job_runs_" + t.UTC().Format("200601") + ".jsonl"
}

// Append writes e to the monthly shard and the tail. Both writes are attempted;
// the first error is returned.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if e.TsISO == "" {
		e.TsISO = time.Now().UTC().Format(time.RFC3339)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode run entry: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, e.TsISO)
	if err != nil {
		ts = time.Now()
	}

	var firstErr error
	if err := blobstore.AppendTo(ctx, l.blobs, MonthName(ts), append(line, '\n')); err != nil {
		firstErr = fmt.Errorf("append month shard: %w", err)
	}
	if err := l.appendTail(ctx, line); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("rewrite tail: %w", err)
	}
	return firstErr
}

func (l *Log) appendTail(ctx context.Context, line []byte) error {
	raw, ref, err := blobstore.ReadByName(ctx, l.blobs, TailName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return blobstore.Put(ctx, l.blobs, TailName, append(line, '\n'))
	}
	if err != nil {
		return err
	}

	var lines [][]byte
	if len(raw) > TailByteGuard {
		l.log.Warn("tail over byte guard; resetting", logx.Int("bytes", len(raw)))
	} else {
		lines = splitLines(raw)
	}
	lines = append(lines, line)
	if len(lines) > l.maxTailLines {
		lines = lines[len(lines)-l.maxTailLines:]
	}

	var buf bytes.Buffer
	for _, ln := range lines {
		buf.Write(ln)
		buf.WriteByte('\n')
	}
	return l.blobs.Update(ctx, ref.ID, buf.Bytes())
}

// ReadTail returns up to maxLines most recent entries, oldest first.
func (l *Log) ReadTail(ctx context.Context, maxLines int) ([]Entry, error) {
	raw, _, err := blobstore.ReadByName(ctx, l.blobs, TailName)
	if errors.Is(err, blobstore.ErrNotFound) {
		raw, _, err = blobstore.ReadByName(ctx, l.blobs, LegacyName)
	}
	if errors.Is(err, blobstore.ErrNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	entries := l.decode(raw)
	if maxLines > 0 && len(entries) > maxLines {
		entries = entries[len(entries)-maxLines:]
	}
	return entries, nil
}

// ReadMonth returns all entries of a YYYYMM shard. When the shard is absent the
// legacy file is filtered by month instead.
func (l *Log) ReadMonth(ctx context.Context, yyyymm string) ([]Entry, error) {
	if !monthRe.MatchString(yyyymm) {
		return nil, ErrBadMonth
	}
	raw, _, err := blobstore.ReadByName(ctx, l.blobs, "job_runs_"+yyyymm+".jsonl")
	if err == nil {
		return l.decode(raw), nil
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		return nil, err
	}

	raw, _, err = blobstore.ReadByName(ctx, l.blobs, LegacyName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []Entry{}
	for _, e := range l.decode(raw) {
		ts, err := time.Parse(time.RFC3339Nano, e.TsISO)
		if err == nil && ts.UTC().Format("200601") == yyyymm {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *Log) decode(raw []byte) []Entry {
	out := []Entry{}
	for _, ln := range splitLines(raw) {
		var e Entry
		if err := json.Unmarshal(ln, &e); err != nil {
			l.log.Debug("skipping malformed run line", logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	return out
}

func splitLines(raw []byte) [][]byte {
	var out [][]byte
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), TailByteGuard+1)
	for sc.Scan() {
		ln := bytes.TrimSpace(sc.Bytes())
		if len(ln) == 0 {
			continue
		}
		out = append(out, append([]byte(nil), ln...))
	}
	return out
}
