package schedule

import (
	"strings"
)

// Aliases maps alternative spellings to canonical names, per filter kind.
// Keys are matched case-insensitively.
type Aliases struct {
	Entities     map[string]string `json:"entities,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Participants map[string]string `json:"participants,omitempty"`
}

var severities = map[string]int{"low": 1, "medium": 2, "high": 3, "critical": 4}

// SeverityRank orders severities; unknown values rank 0.
func SeverityRank(s string) int {
	return severities[strings.ToLower(strings.TrimSpace(s))]
}

// NormalizeFilters lower-cases, canonicalizes and dedups filter values.
// Unknown severities are dropped.
func NormalizeFilters(f Filters, a *Aliases) Filters {
	var ents, tags, parts map[string]string
	if a != nil {
		ents, tags, parts = a.Entities, a.Tags, a.Participants
	}
	out := Filters{
		Entities:     normalizeList(f.Entities, ents),
		Tags:         normalizeList(f.Tags, tags),
		Participants: normalizeList(f.Participants, parts),
	}
	if sev := strings.ToLower(strings.TrimSpace(f.MinRiskSeverity)); SeverityRank(sev) > 0 {
		out.MinRiskSeverity = sev
	}
	if f.Include != nil {
		inc := *f.Include
		out.Include = &inc
	}
	return out
}

// NormalizeProfile returns p with normalized filters and cleaned addresses.
func NormalizeProfile(p Profile, a *Aliases) Profile {
	p.ID = strings.TrimSpace(p.ID)
	p.To = cleanAddrs(p.To)
	p.CC = cleanAddrs(p.CC)
	p.Filters = NormalizeFilters(p.Filters, a)
	return p
}

// Canonical resolves one value against an alias table.
func Canonical(v string, table map[string]string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	for k, c := range table {
		if strings.ToLower(strings.TrimSpace(k)) == v {
			return strings.ToLower(strings.TrimSpace(c))
		}
	}
	return v
}

func normalizeList(in []string, table map[string]string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		c := Canonical(v, table)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func cleanAddrs(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		k := strings.ToLower(v)
		if v == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}
