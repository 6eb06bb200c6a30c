// Package framework maps human-readable compliance framework labels to
// scanner framework identifiers, and scanner checks to framework controls.
package framework

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/vahti/pkg/finding"
)

//go:embed labels.yaml
var defaultLabels []byte

// Table maps provider → human label → framework id.
type Table map[finding.Provider]map[string]string

// ParseTable decodes a YAML label table.
func ParseTable(data []byte) (Table, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse label table: %w", err)
	}

	t := make(Table, len(raw))
	for name, labels := range raw {
		p, ok := finding.ParseProvider(name)
		if !ok {
			return nil, fmt.Errorf("label table: unknown provider %q", name)
		}
		entries := make(map[string]string, len(labels))
		for label, id := range labels {
			if strings.TrimSpace(id) == "" {
				return nil, fmt.Errorf("label table: %s label %q has no framework id", p, label)
			}
			entries[label] = strings.TrimSpace(id)
		}
		t[p] = entries
	}
	return t, nil
}

// LoadTableFile reads a YAML label table from disk.
func LoadTableFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read label table: %w", err)
	}
	return ParseTable(data)
}

var defaultTable = sync.OnceValues(func() (Table, error) {
	return ParseTable(defaultLabels)
})

// DefaultTable returns the built-in label table.
func DefaultTable() Table {
	t, err := defaultTable()
	if err != nil {
		panic(fmt.Sprintf("framework: embedded label table: %v", err))
	}
	return t
}
