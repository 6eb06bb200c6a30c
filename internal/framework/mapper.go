package framework

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yairfalse/vahti/pkg/finding"
)

// ErrUnsupportedFrameworkSelection means none of the requested labels
// resolved for the provider. A scan must not start on this error.
var ErrUnsupportedFrameworkSelection = errors.New("no supported frameworks selected")

// SelectionError carries the provider and labels of a failed selection.
type SelectionError struct {
	Provider finding.Provider
	Labels   []string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("%s: none of %d framework label(s) supported for %s",
		ErrUnsupportedFrameworkSelection, len(e.Labels), e.Provider)
}

func (e *SelectionError) Unwrap() error {
	return ErrUnsupportedFrameworkSelection
}

// Selection is the outcome of resolving a set of labels.
type Selection struct {
	IDs         []string `json:"ids"`
	Unsupported []string `json:"unsupported"`
}

// Mapper resolves labels against a Table. It is read-only after
// construction and safe for concurrent use.
type Mapper struct {
	ids    map[finding.Provider]map[string]string
	labels map[finding.Provider][]string
}

// NewMapper indexes the table for lookup.
func NewMapper(t Table) *Mapper {
	m := &Mapper{
		ids:    make(map[finding.Provider]map[string]string, len(t)),
		labels: make(map[finding.Provider][]string, len(t)),
	}
	for p, entries := range t {
		idx := make(map[string]string, len(entries))
		labels := make([]string, 0, len(entries))
		for label, id := range entries {
			idx[labelKey(label)] = id
			labels = append(labels, label)
		}
		sort.Strings(labels)
		m.ids[p] = idx
		m.labels[p] = labels
	}
	return m
}

// Default returns a Mapper over the built-in table.
func Default() *Mapper {
	return NewMapper(DefaultTable())
}

func labelKey(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// Resolve returns the framework id for a label under a provider.
// Labels match case-insensitively with whitespace collapsed.
func (m *Mapper) Resolve(p finding.Provider, label string) (string, bool) {
	id, ok := m.ids[p][labelKey(label)]
	return id, ok
}

// ResolveAll resolves labels, dropping unsupported ones. The result is
// deduplicated and ordered by first occurrence of each resolved id.
func (m *Mapper) ResolveAll(p finding.Provider, labels []string) []string {
	sel := m.resolve(p, labels)
	return sel.IDs
}

// Select resolves labels and fails when none resolve.
func (m *Mapper) Select(p finding.Provider, labels []string) (Selection, error) {
	sel := m.resolve(p, labels)
	if len(sel.IDs) == 0 {
		return sel, &SelectionError{Provider: p, Labels: labels}
	}
	return sel, nil
}

func (m *Mapper) resolve(p finding.Provider, labels []string) Selection {
	sel := Selection{IDs: []string{}, Unsupported: []string{}}
	seen := make(map[string]bool, len(labels))
	for _, label := range labels {
		id, ok := m.Resolve(p, label)
		if !ok {
			sel.Unsupported = append(sel.Unsupported, label)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		sel.IDs = append(sel.IDs, id)
	}
	return sel
}

// Labels returns the provider's labels in sorted order.
func (m *Mapper) Labels(p finding.Provider) []string {
	labels := m.labels[p]
	out := make([]string, len(labels))
	copy(out, labels)
	return out
}
