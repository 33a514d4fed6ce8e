package digest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"digestfanout/internal/blobstore"
	"digestfanout/internal/schedule"
)

var now = time.Date(2026, 1, 12, 9, 30, 0, 0, time.UTC)

func seed(t *testing.T, store blobstore.Store, items ...Item) {
	t.Helper()
	b, err := json.Marshal(index{Items: items})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(context.Background(), IndexName, b); err != nil {
		t.Fatal(err)
	}
}

func sampleItems() []Item {
	return []Item{
		{ID: "1", Kind: KindSummary, Title: "Board meeting", Entities: []string{"Acme"}, AtISO: "2026-01-08T10:00:00Z", URL: "https://x/1"},
		{ID: "2", Kind: KindRisk, Title: "Late filing", Severity: "critical", Tags: []string{"legal"}, AtISO: "2026-01-11T10:00:00Z"},
		{ID: "3", Kind: KindRisk, Title: "Minor typo", Severity: "low", AtISO: "2026-01-12T08:45:00Z"},
		{ID: "4", Kind: KindAction, Title: "Sign NDA", Participants: []string{"Ana"}, AtISO: "2026-01-01T10:00:00Z"},
	}
}

func TestWindowFor(t *testing.T) {
	t.Parallel()

	w := WindowFor(schedule.WeekInReviewParams{LookbackDays: 7}, now)
	if w.Key != "2026-01-05:2026-01-12" {
		t.Fatalf("week key=%s", w.Key)
	}
	if again := WindowFor(schedule.WeekInReviewParams{LookbackDays: 7}, now.Add(2*time.Hour)); again.Key != w.Key {
		t.Fatalf("same day must yield same window")
	}
	a := WindowFor(schedule.AlertsParams{LookbackHours: 1}, now)
	if a.Key != "2026-01-12T08Z:2026-01-12T09Z" {
		t.Fatalf("alerts key=%s", a.Key)
	}
	if RunKey("wir", w) != "wir:2026-01-05:2026-01-12" {
		t.Fatalf("runKey=%s", RunKey("wir", w))
	}
}

func TestComputeWeekInReview(t *testing.T) {
	t.Parallel()

	store := blobstore.NewMemory()
	seed(t, store, sampleItems()...)
	c := SourceComputer{Source: BlobSource{Blobs: store}}
	job := schedule.Job{ID: "wir", Type: schedule.TypeWeekInReview}
	spec, _ := job.Spec()

	out, err := c.Compute(context.Background(), job, spec, now)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// Item 3 is after the window end, item 4 before its start.
	if len(out.Items) != 2 {
		t.Fatalf("items=%d want 2", len(out.Items))
	}
	in := out.NotifyInput()
	if in.Empty || in.RunKey != "wir:2026-01-05:2026-01-12" || in.JobType != schedule.TypeWeekInReview {
		t.Fatalf("notify input: %+v", in)
	}
}

func TestComputeAlertsKeepsSevereRisks(t *testing.T) {
	t.Parallel()

	store := blobstore.NewMemory()
	seed(t, store, sampleItems()...)
	c := SourceComputer{Source: BlobSource{Blobs: store}}
	job := schedule.Job{ID: "al", Type: schedule.TypeAlerts, Params: json.RawMessage(`{"lookbackHours":72}`)}
	spec, _ := job.Spec()

	out, err := c.Compute(context.Background(), job, spec, now)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].ID != "2" {
		t.Fatalf("items=%+v", out.Items)
	}
}

func TestBuildPersonalized(t *testing.T) {
	t.Parallel()

	spec := schedule.WeekInReviewParams{LookbackDays: 7, TopN: 10}
	out := Output{JobID: "wir", Spec: spec, Window: WindowFor(spec, now), Items: sampleItems()[:3]}
	prof := &schedule.Profile{ID: "legal", Name: "Legal"}

	d := Build(out, prof, schedule.Filters{Tags: []string{"legal"}})
	if d.Empty || d.Stats["total"] != 1 || d.Stats["risk"] != 1 {
		t.Fatalf("digest: %+v", d)
	}
	if !strings.HasSuffix(d.Subject, "(Legal)") {
		t.Fatalf("subject=%q", d.Subject)
	}
	if !strings.Contains(d.Body, "**[CRITICAL]** Late filing") {
		t.Fatalf("body=%q", d.Body)
	}

	empty := Build(out, prof, schedule.Filters{Entities: []string{"globex"}})
	if !empty.Empty || !strings.Contains(empty.Body, "Nothing new") {
		t.Fatalf("expected empty digest: %+v", empty)
	}
}

func TestBuildOrdersTopBySeverity(t *testing.T) {
	t.Parallel()

	spec := schedule.WeekInReviewParams{LookbackDays: 7, TopN: 2}
	out := Output{JobID: "wir", Spec: spec, Window: WindowFor(spec, now), Items: sampleItems()[:3]}
	d := Build(out, nil, schedule.Filters{})
	if len(d.Top) != 2 || d.Top[0].ID != "2" || d.Top[1].ID != "3" {
		t.Fatalf("top=%+v", d.Top)
	}
	if txt := PlainText(d); !strings.HasPrefix(txt, "Week in review: 2026-01-05 to 2026-01-12") {
		t.Fatalf("plain=%q", txt)
	}
}

func TestMatchKindsAndSeverity(t *testing.T) {
	t.Parallel()

	risk := Item{Kind: KindRisk, Severity: "medium"}
	if Match(risk, schedule.Filters{MinRiskSeverity: "high"}) {
		t.Fatalf("medium risk passed a high floor")
	}
	if !Match(Item{Kind: KindSummary}, schedule.Filters{MinRiskSeverity: "high"}) {
		t.Fatalf("severity floor must not apply to summaries")
	}
	if Match(Item{Kind: KindSummary}, schedule.Filters{Include: &schedule.Include{Risks: true}}) {
		t.Fatalf("excluded kind passed")
	}
}

func TestReporterWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := blobstore.NewMemory()
	name, err := Reporter{Blobs: store}.Write(ctx, "wir:2026-01-05:2026-01-12", "legal", Digest{Body: "# hi\n"}, now)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	b, _, err := blobstore.ReadByName(ctx, store, name)
	if err != nil || !strings.Contains(string(b), "# hi") {
		t.Fatalf("report=%q err=%v", b, err)
	}
}
