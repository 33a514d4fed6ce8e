package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"digestfanout/internal/blobstore"
)

const sampleDoc = `{
  "version": 1,
  "jobs": [
    {
      "id": "wir",
      "type": "week_in_review",
      "enabled": true,
      "schedule": {"cron": "0 9 * * MON", "timezone": "Europe/Paris"},
      "params": {"lookbackDays": 14},
      "notify": {
        "enabled": true,
        "mode": "routes",
        "slack": {"targets": ["OPS"], "routesTargets": ["TEAM_A"]},
        "routes": [
          {"profileId": "legal", "generateReport": true},
          {"profileId": "ghost"}
        ]
      }
    },
    {"id": "alerts", "type": "alerts", "enabled": true, "schedule": {"cron": "*/15 * * * *"}}
  ],
  "recipientProfiles": [
    {"id": "legal", "to": ["legal@example.com"], "filters": {"entities": ["ACME Inc", "acme"]}}
  ],
  "ui": {"collapsed": true}
}`

func TestLoadCreatesDefault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := blobstore.NewMemory()
	cfg, err := Load(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Version != Version || len(cfg.Jobs) != 0 {
		t.Fatalf("default: %+v", cfg)
	}
	if _, ok, _ := blobstore.FindByName(ctx, store, DocName); !ok {
		t.Fatalf("default document not persisted")
	}
}

func TestParseAndSpec(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wir, ok := cfg.Job("wir")
	if !ok {
		t.Fatalf("job missing")
	}
	spec, err := wir.Spec()
	if err != nil {
		t.Fatalf("spec: %v", err)
	}
	p, ok := spec.(WeekInReviewParams)
	if !ok || p.LookbackDays != 14 || p.TopN != 10 {
		t.Fatalf("params: %#v", spec)
	}

	al, _ := cfg.Job("alerts")
	spec, err = al.Spec()
	if err != nil {
		t.Fatalf("spec: %v", err)
	}
	if a := spec.(AlertsParams); a.LookbackHours != 24 || a.MinSeverity != "high" {
		t.Fatalf("alerts defaults: %+v", a)
	}
	if got := wir.Notify.Slack.For(ModeRoutes); len(got) != 1 || got[0] != "TEAM_A" {
		t.Fatalf("routes targets: %v", got)
	}
	if got := wir.Notify.Slack.For(ModeBroadcast); got[0] != "OPS" {
		t.Fatalf("broadcast targets: %v", got)
	}
}

func TestSpecUnknownType(t *testing.T) {
	t.Parallel()

	_, err := Job{ID: "x", Type: "digest"}.Spec()
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Field != "type" {
		t.Fatalf("err=%v", err)
	}
}

func TestValidateFindsDanglingRoute(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	errs := Validate(cfg)
	if len(errs) != 1 || errs[0].ProfileID != "ghost" {
		t.Fatalf("errs=%v", errs)
	}
}

func TestValidateTargetKeysAndCron(t *testing.T) {
	t.Parallel()

	cfg := &Config{Jobs: []Job{{
		ID: "j", Type: TypeAlerts, Schedule: Schedule{Cron: "0 9 * *"},
		Notify: &Notify{Enabled: true, Webhook: TargetsNotify{Targets: []string{"pager-duty"}}},
	}}}
	errs := Validate(cfg)
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	if !fields["schedule.cron"] || !fields["notify.webhook"] {
		t.Fatalf("errs=%v", errs)
	}
}

func TestValidateRejectsCronRanges(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"0 9 1-5 * *", "0 9 * * MON-FRI", "0 25 * * *"} {
		cfg := &Config{Jobs: []Job{{ID: "j", Type: TypeAlerts, Schedule: Schedule{Cron: expr}}}}
		found := false
		for _, e := range Validate(cfg) {
			if e.Field == "schedule.cron" {
				found = true
			}
		}
		if !found {
			t.Fatalf("cron %q: expected schedule.cron error", expr)
		}
	}
}

func TestNormalizeProfile(t *testing.T) {
	t.Parallel()

	a := &Aliases{Entities: map[string]string{"ACME Inc": "Acme"}}
	p := NormalizeProfile(Profile{
		ID: " legal ",
		To: []string{"a@example.com", " A@example.com", ""},
		Filters: Filters{
			Entities:        []string{"ACME Inc", "acme", "Globex"},
			Tags:            []string{"Contract", "contract "},
			MinRiskSeverity: "HIGH",
		},
	}, a)

	if p.ID != "legal" || len(p.To) != 1 {
		t.Fatalf("profile: %+v", p)
	}
	if got, _ := json.Marshal(p.Filters.Entities); string(got) != `["acme","globex"]` {
		t.Fatalf("entities=%s", got)
	}
	if len(p.Filters.Tags) != 1 || p.Filters.MinRiskSeverity != "high" {
		t.Fatalf("filters: %+v", p.Filters)
	}
	if NormalizeFilters(Filters{MinRiskSeverity: "urgent"}, nil).MinRiskSeverity != "" {
		t.Fatalf("unknown severity must be dropped")
	}
}

func TestFiltersMerge(t *testing.T) {
	t.Parallel()

	base := Filters{Entities: []string{"acme"}, Tags: []string{"legal"}}
	got := base.Merge(&Filters{Tags: []string{"finance"}, Include: &Include{Risks: true}})
	if got.Entities[0] != "acme" || got.Tags[0] != "finance" {
		t.Fatalf("merge: %+v", got)
	}
	if k := got.Kinds(); k.Summaries || !k.Risks {
		t.Fatalf("kinds: %+v", k)
	}
	if k := base.Kinds(); k != AllKinds {
		t.Fatalf("nil include must mean all kinds")
	}
}

func TestLoadAliasesMissing(t *testing.T) {
	t.Parallel()

	a, err := LoadAliases(context.Background(), blobstore.NewMemory())
	if err != nil || a == nil {
		t.Fatalf("aliases: %v %v", a, err)
	}
}
