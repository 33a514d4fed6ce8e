// Package marker records sends that already happened.
//
// A marker is a write-once document whose name is derived from the
// (channel, runKey, recipientKey, targetKey) tuple. Its existence is the
// idempotency signal; the body is informational.
package marker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"digestfanout/internal/blobstore"
)

const (
	deliveryPrefix = "delivery_"
	reportPrefix   = "report_"
	maxNameLen     = 180
)

// Key is the identity of one logical send.
type Key struct {
	Channel      string
	RunKey       string
	RecipientKey string
	TargetKey    string
}

// Details is stored as the marker body.
type Details struct {
	Channel      string `json:"channel"`
	RunKey       string `json:"runKey"`
	RecipientKey string `json:"recipientKey,omitempty"`
	TargetKey    string `json:"targetKey,omitempty"`
	SentAtISO    string `json:"sentAtISO"`
	MessageID    string `json:"messageId,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
}

// Store reads and writes markers in a blob namespace.
type Store struct {
	blobs blobstore.Store
	now   func() time.Time
}

func New(blobs blobstore.Store) *Store {
	return &Store{blobs: blobs, now: time.Now}
}

// Name returns the deterministic document name for k.
func Name(k Key) string {
	return buildName(deliveryPrefix, k.Channel, k.RunKey, k.RecipientKey, k.TargetKey)
}

// ReportName names the per-(run, profile) report marker.
func ReportName(runKey, profileID string) string {
	return buildName(reportPrefix, runKey, profileID)
}

// Exists reports whether a marker for k was written.
func (s *Store) Exists(ctx context.Context, k Key) (bool, error) {
	_, ok, err := blobstore.FindByName(ctx, s.blobs, Name(k))
	return ok, err
}

// Write records k. A marker that already exists is not an error.
func (s *Store) Write(ctx context.Context, k Key, d Details) error {
	d.Channel = k.Channel
	d.RunKey = k.RunKey
	d.RecipientKey = k.RecipientKey
	d.TargetKey = k.TargetKey
	if d.SentAtISO == "" {
		d.SentAtISO = s.now().UTC().Format(time.RFC3339)
	}
	return s.create(ctx, Name(k), d)
}

// ReportExists reports whether the per-profile report for runKey was made.
func (s *Store) ReportExists(ctx context.Context, runKey, profileID string) (bool, error) {
	_, ok, err := blobstore.FindByName(ctx, s.blobs, ReportName(runKey, profileID))
	return ok, err
}

// WriteReport records that the per-profile report for runKey was made.
func (s *Store) WriteReport(ctx context.Context, runKey, profileID, reportName string) error {
	body := map[string]string{
		"runKey":    runKey,
		"profileId": profileID,
		"report":    reportName,
		"atISO":     s.now().UTC().Format(time.RFC3339),
	}
	return s.create(ctx, ReportName(runKey, profileID), body)
}

func (s *Store) create(ctx context.Context, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.blobs.Create(ctx, name, b)
	if errors.Is(err, blobstore.ErrExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write marker %s: %w", name, err)
	}
	return nil
}

func buildName(prefix string, parts ...string) string {
	slugs := make([]string, 0, len(parts))
	for _, p := range parts {
		slugs = append(slugs, Slug(p))
	}
	base := strings.Join(slugs, "__")
	name := prefix + base + ".json"
	if len(name) <= maxNameLen {
		return name
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	keep := maxNameLen - len(prefix) - len(".json") - 17
	return prefix + base[:keep] + "_" + hex.EncodeToString(sum[:8]) + ".json"
}

// Slug keeps [a-z0-9._] and folds every other run of characters to one '-'.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "none"
	}
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_'
		if ok {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" || out == "." || out == ".." {
		return "none"
	}
	return out
}
