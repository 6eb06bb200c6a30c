package framework

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/vahti/pkg/finding"
)

//go:embed mappings/*.yaml
var defaultMappings embed.FS

// Rule maps one scanner check ("tool:check_id") to a framework control.
type Rule struct {
	Source      string `yaml:"source"`
	Target      string `yaml:"target"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Severity    string `yaml:"severity"`
}

// Category groups controls of a framework.
type Category struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Controls []string `yaml:"controls"`
}

// Mapping is one framework's check → control table.
type Mapping struct {
	MapID         string     `yaml:"map_id"`
	Name          string     `yaml:"name"`
	Version       string     `yaml:"version"`
	Description   string     `yaml:"description"`
	FrameworkType string     `yaml:"framework_type"`
	Provider      string     `yaml:"provider"`
	Rules         []Rule     `yaml:"rules"`
	Categories    []Category `yaml:"categories"`
}

// ParseMapping decodes and validates a YAML mapping.
func ParseMapping(data []byte) (Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Mapping{}, fmt.Errorf("parse mapping: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

// Validate checks required fields and rule shape.
func (m Mapping) Validate() error {
	if strings.TrimSpace(m.MapID) == "" {
		return fmt.Errorf("mapping: map_id required")
	}
	for i, r := range m.Rules {
		tool, check, ok := strings.Cut(r.Source, ":")
		if !ok || tool == "" || check == "" {
			return fmt.Errorf("mapping %s: rule %d: source %q must be tool:check_id", m.MapID, i, r.Source)
		}
		if strings.TrimSpace(r.Target) == "" {
			return fmt.Errorf("mapping %s: rule %d: target required", m.MapID, i)
		}
		if r.Severity != "" {
			if _, ok := finding.ParseSeverity(r.Severity); !ok {
				return fmt.Errorf("mapping %s: rule %d: unknown severity %q", m.MapID, i, r.Severity)
			}
		}
	}
	return nil
}

// ControlsByCategory returns category name → controls. Without categories
// every target is listed under "All Controls".
func (m Mapping) ControlsByCategory() map[string][]string {
	out := make(map[string][]string, len(m.Categories))
	for _, c := range m.Categories {
		out[c.Name] = c.Controls
	}
	if len(out) > 0 {
		return out
	}

	seen := make(map[string]bool, len(m.Rules))
	var all []string
	for _, r := range m.Rules {
		if !seen[r.Target] {
			seen[r.Target] = true
			all = append(all, r.Target)
		}
	}
	sort.Strings(all)
	out["All Controls"] = all
	return out
}

type boundRule struct {
	mapID string
	rule  Rule
}

// Catalog indexes mappings by source check. Read-only after construction.
type Catalog struct {
	mappings map[string]Mapping
	ids      []string
	bySource map[string][]boundRule
}

// NewCatalog builds a catalog. Duplicate map ids are rejected.
func NewCatalog(mappings ...Mapping) (*Catalog, error) {
	c := &Catalog{
		mappings: make(map[string]Mapping, len(mappings)),
		bySource: make(map[string][]boundRule),
	}
	for _, m := range mappings {
		if _, dup := c.mappings[m.MapID]; dup {
			return nil, fmt.Errorf("catalog: duplicate map_id %q", m.MapID)
		}
		c.mappings[m.MapID] = m
		c.ids = append(c.ids, m.MapID)
	}
	sort.Strings(c.ids)

	for _, id := range c.ids {
		for _, r := range c.mappings[id].Rules {
			key := sourceKey(r.Source)
			c.bySource[key] = append(c.bySource[key], boundRule{mapID: id, rule: r})
		}
	}
	return c, nil
}

func sourceKey(source string) string {
	tool, check, _ := strings.Cut(source, ":")
	return strings.ToLower(strings.TrimSpace(tool)) + ":" + strings.TrimSpace(check)
}

// LoadDir reads every *.yaml / *.yml mapping in dir.
func LoadDir(dir string) ([]Mapping, error) {
	return loadFS(os.DirFS(dir), ".")
}

func loadFS(fsys fs.FS, dir string) ([]Mapping, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read mappings: %w", err)
	}

	var out []Mapping
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, entry.Name())))
		if err != nil {
			return nil, fmt.Errorf("read mapping %s: %w", entry.Name(), err)
		}
		m, err := ParseMapping(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		out = append(out, m)
	}
	return out, nil
}

// DefaultMappings returns the built-in mappings.
func DefaultMappings() ([]Mapping, error) {
	return loadFS(defaultMappings, "mappings")
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	mappings, err := DefaultMappings()
	if err != nil {
		return nil, err
	}
	return NewCatalog(mappings...)
})

// DefaultCatalog returns a catalog over the built-in mappings.
func DefaultCatalog() *Catalog {
	c, err := defaultCatalog()
	if err != nil {
		panic(fmt.Sprintf("framework: embedded mappings: %v", err))
	}
	return c
}

// MapIDs returns the catalog's framework ids in sorted order.
func (c *Catalog) MapIDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// Get returns a mapping by id.
func (c *Catalog) Get(mapID string) (Mapping, bool) {
	m, ok := c.mappings[mapID]
	return m, ok
}

// Controls returns the framework controls a tool's check maps to.
// Only mappings in selection apply; an empty selection applies all.
func (c *Catalog) Controls(tool, checkID string, selection []string) []finding.FrameworkRef {
	rules := c.rules(tool, checkID, selection)
	if len(rules) == 0 {
		return nil
	}
	refs := make([]finding.FrameworkRef, 0, len(rules))
	for _, br := range rules {
		refs = append(refs, finding.FrameworkRef{Name: br.mapID, Control: br.rule.Target})
	}
	return refs
}

// SeverityOverride returns the first severity a matching rule declares.
func (c *Catalog) SeverityOverride(tool, checkID string, selection []string) (finding.Severity, bool) {
	for _, br := range c.rules(tool, checkID, selection) {
		if sev, ok := finding.ParseSeverity(br.rule.Severity); ok {
			return sev, true
		}
	}
	return "", false
}

func (c *Catalog) rules(tool, checkID string, selection []string) []boundRule {
	if c == nil || checkID == "" {
		return nil
	}
	rules := c.bySource[sourceKey(tool+":"+checkID)]
	if len(selection) == 0 || len(rules) == 0 {
		return rules
	}

	selected := make(map[string]bool, len(selection))
	for _, id := range selection {
		selected[id] = true
	}
	out := make([]boundRule, 0, len(rules))
	for _, br := range rules {
		if selected[br.mapID] {
			out = append(out, br)
		}
	}
	return out
}
