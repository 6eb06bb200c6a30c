package emitter

import (
	"sync"

	"github.com/yairfalse/vahti/pkg/finding"
)

// DiffType classifies a finding change between two reports.
type DiffType string

const (
	DiffAdded    DiffType = "added"
	DiffResolved DiffType = "resolved"
	DiffModified DiffType = "modified"
)

// FieldChange is the before and after of one field.
type FieldChange struct {
	Previous string
	Current  string
}

// Diff is one finding that changed since the previous report.
type Diff struct {
	Type     DiffType
	Finding  finding.Finding
	Previous *finding.Finding
	Changes  map[string]FieldChange
}

// DiffTracker remembers the last report of each provider and detects
// findings that appeared, disappeared or changed outcome.
type DiffTracker struct {
	mu       sync.Mutex
	previous map[finding.Provider]*baseline
}

type baseline struct {
	order   []string
	entries map[string]finding.Finding
}

// NewDiffTracker creates a new diff tracker.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{
		previous: make(map[finding.Provider]*baseline),
	}
}

// Track compares findings against the provider's previous report and
// stores them as the new baseline in one step. Returns nil when no
// baseline existed, and an empty slice when nothing changed. Added and
// modified entries come in input order, resolved ones after them in the
// previous report's order.
func (d *DiffTracker) Track(provider finding.Provider, current []finding.Finding) []Diff {
	curr := index(current)

	d.mu.Lock()
	prev, ok := d.previous[provider]
	d.previous[provider] = curr
	d.mu.Unlock()

	if !ok {
		return nil
	}
	return compare(prev, curr)
}

func compare(prev, curr *baseline) []Diff {
	diffs := make([]Diff, 0)
	for _, key := range curr.order {
		f := curr.entries[key]
		old, exists := prev.entries[key]
		if !exists {
			diffs = append(diffs, Diff{Type: DiffAdded, Finding: f})
			continue
		}
		if changes := detectChanges(old, f); len(changes) > 0 {
			oldCopy := old
			diffs = append(diffs, Diff{Type: DiffModified, Finding: f, Previous: &oldCopy, Changes: changes})
		}
	}
	for _, key := range prev.order {
		if _, exists := curr.entries[key]; !exists {
			old := prev.entries[key]
			diffs = append(diffs, Diff{Type: DiffResolved, Finding: old, Previous: &old})
		}
	}
	return diffs
}

// index keys findings by entry; the last record of a repeated entry wins.
func index(findings []finding.Finding) *baseline {
	b := &baseline{entries: make(map[string]finding.Finding, len(findings))}
	for _, f := range findings {
		key := f.EntryKey()
		if _, seen := b.entries[key]; !seen {
			b.order = append(b.order, key)
		}
		b.entries[key] = f
	}
	return b
}

func detectChanges(prev, curr finding.Finding) map[string]FieldChange {
	changes := make(map[string]FieldChange)

	if prev.Status != curr.Status {
		changes["status"] = FieldChange{Previous: string(prev.Status), Current: string(curr.Status)}
	}
	if prev.Severity != curr.Severity {
		changes["severity"] = FieldChange{Previous: string(prev.Severity), Current: string(curr.Severity)}
	}
	if prev.Title != curr.Title {
		changes["title"] = FieldChange{Previous: prev.Title, Current: curr.Title}
	}
	return changes
}
