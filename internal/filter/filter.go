// Package filter provides finding filtering for Vahti reports.
package filter

import (
	"strings"

	"github.com/yairfalse/vahti/pkg/finding"
)

// Predicate is the user-facing filter selection. Empty fields match all.
type Predicate struct {
	Severities  []finding.Severity `json:"severities,omitempty"`
	Statuses    []finding.Status   `json:"statuses,omitempty"`
	Frameworks  []string           `json:"frameworks,omitempty"`
	SearchQuery string             `json:"search_query,omitempty"`
}

// Filter selects findings matching a Predicate.
type Filter struct {
	severities map[finding.Severity]bool
	statuses   map[finding.Status]bool
	frameworks map[string]bool
	query      string
}

// New creates a new Filter from the predicate.
func New(p Predicate) *Filter {
	f := &Filter{
		severities: make(map[finding.Severity]bool, len(p.Severities)),
		statuses:   make(map[finding.Status]bool, len(p.Statuses)),
		frameworks: make(map[string]bool, len(p.Frameworks)),
		query:      strings.ToLower(strings.TrimSpace(p.SearchQuery)),
	}
	for _, s := range p.Severities {
		f.severities[s] = true
	}
	for _, s := range p.Statuses {
		f.statuses[s] = true
	}
	for _, name := range p.Frameworks {
		f.frameworks[name] = true
	}
	return f
}

// Match returns true if the finding passes every configured criterion.
// An absent value never matches a non-empty set.
func (f *Filter) Match(fd finding.Finding) bool {
	if len(f.severities) > 0 && (fd.Severity == "" || !f.severities[fd.Severity]) {
		return false
	}
	if len(f.statuses) > 0 && (fd.Status == "" || !f.statuses[fd.Status]) {
		return false
	}
	if len(f.frameworks) > 0 && !f.matchFramework(fd) {
		return false
	}
	return f.matchQuery(fd)
}

func (f *Filter) matchFramework(fd finding.Finding) bool {
	for _, ref := range fd.Frameworks {
		if f.frameworks[ref.Name] {
			return true
		}
	}
	return false
}

// matchQuery looks for the query in check id, title, service and locator
// joined by single spaces, so a match may span adjacent fields.
func (f *Filter) matchQuery(fd finding.Finding) bool {
	if f.query == "" {
		return true
	}
	text := strings.Join([]string{fd.CheckID, fd.Title, fd.Service, fd.Locator()}, " ")
	return strings.Contains(strings.ToLower(text), f.query)
}

// Apply returns the findings that pass the filter, in input order. The
// result is always a new slice.
func (f *Filter) Apply(findings []finding.Finding) []finding.Finding {
	filtered := make([]finding.Finding, 0, len(findings))
	if f.IsEmpty() {
		return append(filtered, findings...)
	}

	for _, fd := range findings {
		if f.Match(fd) {
			filtered = append(filtered, fd)
		}
	}
	return filtered
}

// IsEmpty returns true if no criteria are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.severities) == 0 && len(f.statuses) == 0 && len(f.frameworks) == 0 && f.query == ""
}
