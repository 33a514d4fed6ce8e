// Package digest computes job content and renders it into digests.
//
// The content itself is produced elsewhere and published as a
// content_index.json document in the blob namespace; this package only
// selects, filters and formats it.
package digest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"digestfanout/internal/blobstore"
	"digestfanout/internal/schedule"
)

const IndexName = "content_index.json"

type Kind string

const (
	KindSummary  Kind = "summary"
	KindRisk     Kind = "risk"
	KindAction   Kind = "action"
	KindDecision Kind = "decision"
)

// Item is one piece of indexed content.
type Item struct {
	ID           string   `json:"id"`
	Kind         Kind     `json:"kind"`
	Title        string   `json:"title"`
	Text         string   `json:"text,omitempty"`
	URL          string   `json:"url,omitempty"`
	Entities     []string `json:"entities,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Severity     string   `json:"severity,omitempty"`
	AtISO        string   `json:"atISO"`
}

func (it Item) At() time.Time {
	t, err := time.Parse(time.RFC3339Nano, it.AtISO)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Source returns items whose timestamp falls in [from, to).
type Source interface {
	Items(ctx context.Context, from, to time.Time) ([]Item, error)
}

// BlobSource reads the content index from the blob store.
type BlobSource struct {
	Blobs blobstore.Store
	Name  string
}

type index struct {
	UpdatedAtISO string `json:"updatedAtISO,omitempty"`
	Items        []Item `json:"items"`
}

func (s BlobSource) Items(ctx context.Context, from, to time.Time) ([]Item, error) {
	name := s.Name
	if name == "" {
		name = IndexName
	}
	var idx index
	err := blobstore.ReadJSON(ctx, s.Blobs, name, &idx)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("content index: %w", err)
	}
	out := make([]Item, 0, len(idx.Items))
	for _, it := range idx.Items {
		at := it.At()
		if at.IsZero() || at.Before(from) || !at.Before(to) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// Match reports whether it passes f. Empty lists match everything; a
// severity floor only constrains risk items.
func Match(it Item, f schedule.Filters) bool {
	k := f.Kinds()
	switch it.Kind {
	case KindSummary:
		if !k.Summaries {
			return false
		}
	case KindRisk:
		if !k.Risks {
			return false
		}
	case KindAction:
		if !k.Actions {
			return false
		}
	case KindDecision:
		if !k.Decisions {
			return false
		}
	}
	if !intersects(f.Entities, it.Entities) || !intersects(f.Tags, it.Tags) || !intersects(f.Participants, it.Participants) {
		return false
	}
	if it.Kind == KindRisk && f.MinRiskSeverity != "" {
		if schedule.SeverityRank(it.Severity) < schedule.SeverityRank(f.MinRiskSeverity) {
			return false
		}
	}
	return true
}

// Filter returns the items that pass f.
func Filter(items []Item, f schedule.Filters) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if Match(it, f) {
			out = append(out, it)
		}
	}
	return out
}

func intersects(want, have []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, h := range have {
		if slices.Contains(want, strings.ToLower(strings.TrimSpace(h))) {
			return true
		}
	}
	return false
}
