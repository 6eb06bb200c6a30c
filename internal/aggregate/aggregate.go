// Package aggregate computes dashboard views over normalized findings.
package aggregate

import (
	"sort"

	"github.com/yairfalse/vahti/pkg/finding"
)

// Unspecified is the bucket for findings missing the grouped field.
const Unspecified = "unspecified"

// ControlCount is one entry of the top failed controls list.
type ControlCount struct {
	CheckID string `json:"check_id,omitempty"`
	Title   string `json:"title,omitempty"`
	Count   int    `json:"count"`
}

// Coverage is the pass/fail tally of one framework.
type Coverage struct {
	Total    int      `json:"total"`
	Passed   int      `json:"passed"`
	Failed   int      `json:"failed"`
	Controls []string `json:"controls"`
}

// GroupBySeverity buckets findings by severity. Every bucket is present,
// most severe first, with Unspecified last.
func GroupBySeverity(findings []finding.Finding) Ordered[[]finding.Finding] {
	var out Ordered[[]finding.Finding]
	for _, s := range finding.Severities {
		out.Set(string(s), []finding.Finding{})
	}
	out.Set(Unspecified, []finding.Finding{})

	for _, f := range findings {
		key := Unspecified
		if f.Severity.Valid() {
			key = string(f.Severity)
		}
		out.update(key, func(fs []finding.Finding) []finding.Finding { return append(fs, f) })
	}
	return out
}

// GroupByService buckets findings by service in first-occurrence order.
func GroupByService(findings []finding.Finding) Ordered[[]finding.Finding] {
	var out Ordered[[]finding.Finding]
	for _, f := range findings {
		key := f.Service
		if key == "" {
			key = Unspecified
		}
		out.update(key, func(fs []finding.Finding) []finding.Finding { return append(fs, f) })
	}
	return out
}

// TopFailedControls returns up to n checks with the most distinct failing
// entries. Checks are keyed by check id, or by title when the id is absent;
// findings with neither are skipped. Repeated records of one located entry
// count once. Records without a locator carry no identity and each count.
// Ties keep first occurrence order.
func TopFailedControls(findings []finding.Finding, n int) []ControlCount {
	if n <= 0 {
		return []ControlCount{}
	}

	var counts []ControlCount
	index := make(map[string]int)
	seen := make(map[string]bool)
	for _, f := range findings {
		if f.Status != finding.StatusFail {
			continue
		}
		control := controlKey(f)
		if control == "" {
			continue
		}
		i, ok := index[control]
		if !ok {
			i = len(counts)
			index[control] = i
			counts = append(counts, ControlCount{CheckID: f.CheckID, Title: f.Title})
		}
		if f.Locator() != "" {
			key := control + "|" + f.EntryKey()
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		counts[i].Count++
	}

	sort.SliceStable(counts, func(a, b int) bool {
		return counts[a].Count > counts[b].Count
	})
	if len(counts) > n {
		counts = counts[:n]
	}
	if counts == nil {
		return []ControlCount{}
	}
	return counts
}

func controlKey(f finding.Finding) string {
	if f.CheckID != "" {
		return "id:" + f.CheckID
	}
	if f.Title != "" {
		return "title:" + f.Title
	}
	return ""
}

// FrameworkCoverage tallies findings per framework name in first-occurrence
// order. A finding counts once for each framework it references.
func FrameworkCoverage(findings []finding.Finding) Ordered[Coverage] {
	var out Ordered[Coverage]
	controls := make(map[string]map[string]bool)

	for _, f := range findings {
		for _, name := range f.FrameworkNames() {
			out.update(name, func(c Coverage) Coverage {
				c.Total++
				switch f.Status {
				case finding.StatusPass:
					c.Passed++
				case finding.StatusFail:
					c.Failed++
				}
				return c
			})
		}
		for _, ref := range f.Frameworks {
			if ref.Name == "" || ref.Control == "" {
				continue
			}
			if controls[ref.Name] == nil {
				controls[ref.Name] = make(map[string]bool)
			}
			controls[ref.Name][ref.Control] = true
		}
	}

	for _, name := range out.Keys() {
		out.update(name, func(c Coverage) Coverage {
			c.Controls = sortedKeys(controls[name])
			return c
		})
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Views bundles every dashboard view of one finding set.
type Views struct {
	Summary           Summary                    `json:"summary"`
	SeverityGroups    Ordered[[]finding.Finding] `json:"severity_groups"`
	ServiceGroups     Ordered[[]finding.Finding] `json:"service_groups"`
	TopFailedControls []ControlCount             `json:"top_failed_controls"`
	FrameworkCoverage Ordered[Coverage]          `json:"framework_coverage"`
}

// Build computes every view, with topN failed controls.
func Build(findings []finding.Finding, topN int) Views {
	return Views{
		Summary:           Summarize(findings),
		SeverityGroups:    GroupBySeverity(findings),
		ServiceGroups:     GroupByService(findings),
		TopFailedControls: TopFailedControls(findings, topN),
		FrameworkCoverage: FrameworkCoverage(findings),
	}
}
