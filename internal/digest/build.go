package digest

import (
	"fmt"
	"sort"
	"strings"

	"digestfanout/internal/schedule"
)

// Digest is a rendered notification. Body is markdown.
type Digest struct {
	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Empty   bool           `json:"empty"`
	Stats   map[string]int `json:"stats"`
	Top     []Item         `json:"top"`
	Links   []string       `json:"links"`
}

// Build renders out for an audience. profile is nil for broadcast digests;
// f is the effective (already merged and normalized) filter set.
func Build(out Output, profile *schedule.Profile, f schedule.Filters) Digest {
	items := Filter(out.Items, f)
	in := out.NotifyInput()

	stats := map[string]int{"total": len(items)}
	for _, it := range items {
		stats[string(it.Kind)]++
	}

	top := append([]Item(nil), items...)
	sort.SliceStable(top, func(i, j int) bool {
		ri, rj := schedule.SeverityRank(top[i].Severity), schedule.SeverityRank(top[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return top[i].At().After(top[j].At())
	})
	if in.TopN > 0 && len(top) > in.TopN {
		top = top[:in.TopN]
	}

	links := make([]string, 0, len(top))
	for _, it := range top {
		if it.URL != "" {
			links = append(links, it.URL)
		}
	}

	d := Digest{
		Subject: subject(in, profile, len(items)),
		Empty:   len(items) == 0,
		Stats:   stats,
		Top:     top,
		Links:   links,
	}
	d.Body = render(d, in)
	return d
}

func subject(in NotifyInput, profile *schedule.Profile, n int) string {
	var s string
	switch in.JobType {
	case schedule.TypeAlerts:
		s = fmt.Sprintf("Alerts: %d risk item(s) as of %s", n, in.Window.To.Format("2006-01-02 15:04 UTC"))
	default:
		s = fmt.Sprintf("Week in review: %s to %s", in.Window.From.Format("2006-01-02"), in.Window.To.Format("2006-01-02"))
	}
	if profile != nil {
		name := profile.Name
		if name == "" {
			name = profile.ID
		}
		s += " (" + name + ")"
	}
	return s
}

var kindTitles = []struct {
	kind  Kind
	title string
}{
	{KindRisk, "Risks"},
	{KindDecision, "Decisions"},
	{KindAction, "Actions"},
	{KindSummary, "Summaries"},
}

func render(d Digest, in NotifyInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", d.Subject)
	fmt.Fprintf(&b, "_Window: %s to %s_\n\n", in.Window.From.Format("2006-01-02 15:04"), in.Window.To.Format("2006-01-02 15:04"))
	if d.Empty {
		b.WriteString("Nothing new in this window.\n")
		return b.String()
	}
	for _, kt := range kindTitles {
		var section []Item
		for _, it := range d.Top {
			if it.Kind == kt.kind {
				section = append(section, it)
			}
		}
		if len(section) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s (%d)\n\n", kt.title, d.Stats[string(kt.kind)])
		for _, it := range section {
			b.WriteString("- ")
			if it.Severity != "" && it.Kind == KindRisk {
				fmt.Fprintf(&b, "**[%s]** ", strings.ToUpper(it.Severity))
			}
			if it.URL != "" {
				fmt.Fprintf(&b, "[%s](%s)", it.Title, it.URL)
			} else {
				b.WriteString(it.Title)
			}
			if t := strings.TrimSpace(it.Text); t != "" {
				b.WriteString(": ")
				b.WriteString(t)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// PlainText is the chat rendering of d: subject plus a compact list.
func PlainText(d Digest) string {
	var b strings.Builder
	b.WriteString(d.Subject)
	if d.Empty {
		b.WriteString("\nNothing new in this window.")
		return b.String()
	}
	for _, it := range d.Top {
		b.WriteString("\n- ")
		if it.Kind == KindRisk && it.Severity != "" {
			b.WriteString("[" + strings.ToUpper(it.Severity) + "] ")
		}
		b.WriteString(it.Title)
		if it.URL != "" {
			b.WriteString(" <" + it.URL + ">")
		}
	}
	return b.String()
}
