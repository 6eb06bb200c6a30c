// Package normalizer converts raw scanner output into canonical reports.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/yairfalse/vahti/internal/framework"
	"github.com/yairfalse/vahti/internal/resolve"
	"github.com/yairfalse/vahti/pkg/finding"
)

// DefaultTool is the tool name used when the input does not carry one.
const DefaultTool = "prowler"

// ErrMalformedInput means the payload is neither a list of findings nor a
// findings wrapper object. No partial report is returned with it.
var ErrMalformedInput = errors.New("malformed input")

// InputError describes why an input was rejected.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return ErrMalformedInput.Error() + ": " + e.Reason
}

func (e *InputError) Unwrap() error {
	return ErrMalformedInput
}

// Observer is told about raw vocabulary values that matched nothing.
type Observer interface {
	Unmapped(field, value string)
}

type nopObserver struct{}

func (nopObserver) Unmapped(string, string) {}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithCatalog sets the check → control catalog.
func WithCatalog(c *framework.Catalog) Option {
	return func(n *Normalizer) { n.catalog = c }
}

// WithObserver sets the observer for unmapped vocabulary values.
func WithObserver(o Observer) Option {
	return func(n *Normalizer) {
		if o != nil {
			n.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(n *Normalizer) { n.logger = l }
}

// WithDefaultTool sets the tool name for inputs without one.
func WithDefaultTool(tool string) Option {
	return func(n *Normalizer) {
		if tool != "" {
			n.defaultTool = tool
		}
	}
}

// Normalizer maps raw records onto canonical findings. It holds no
// mutable state and is safe for concurrent use.
type Normalizer struct {
	catalog     *framework.Catalog
	observer    Observer
	logger      zerolog.Logger
	defaultTool string
}

// New creates a Normalizer using the built-in catalog unless overridden.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		catalog:     framework.DefaultCatalog(),
		observer:    nopObserver{},
		logger:      zerolog.Nop(),
		defaultTool: DefaultTool,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Decode parses JSON bytes and normalizes them.
func (n *Normalizer) Decode(data []byte, hint finding.Provider) (finding.Report, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var input any
	if err := dec.Decode(&input); err != nil {
		return finding.Report{}, &InputError{Reason: fmt.Sprintf("invalid json: %v", err)}
	}
	if dec.More() {
		return finding.Report{}, &InputError{Reason: "trailing data after json value"}
	}
	return n.Normalize(input, hint)
}

type envelope struct {
	tool      string
	provider  finding.Provider
	selection []string
	records   []resolve.Record
}

var (
	toolField      = resolve.Field{Name: "tool", Aliases: []resolve.Path{{"tool"}, {"product"}}}
	selectionField = resolve.Field{Name: "framework_selection", Aliases: []resolve.Path{{"framework_selection"}}}
)

// Normalize accepts either a list of raw findings or an object with a
// findings member, and returns one canonical finding per record, in order.
// hint supplies the provider for findings and reports lacking one.
func (n *Normalizer) Normalize(input any, hint finding.Provider) (finding.Report, error) {
	if hint != "" && !hint.Valid() {
		return finding.Report{}, &InputError{Reason: fmt.Sprintf("unknown provider hint %q", hint)}
	}

	env, err := n.unwrap(input)
	if err != nil {
		return finding.Report{}, err
	}

	report := finding.Report{
		Tool:               env.tool,
		Provider:           env.provider,
		FrameworkSelection: env.selection,
		Findings:           make([]finding.Finding, 0, len(env.records)),
	}
	if report.Tool == "" {
		report.Tool = n.defaultTool
	}
	if report.Provider == "" {
		report.Provider = hint
	}
	if report.Provider == "" {
		report.Provider = firstProvider(env.records)
	}
	if report.FrameworkSelection == nil {
		report.FrameworkSelection = []string{}
	}

	for i, rec := range env.records {
		f := n.Record(rec, report.Provider, report.Tool, report.FrameworkSelection)
		if f.Provider == "" {
			return finding.Report{}, &InputError{Reason: fmt.Sprintf("record %d: provider undetermined", i)}
		}
		report.Findings = append(report.Findings, f)
	}

	n.logger.Debug().
		Str("tool", report.Tool).
		Str("provider", string(report.Provider)).
		Int("findings", len(report.Findings)).
		Msg("normalized report")

	return report, nil
}

func (n *Normalizer) unwrap(input any) (envelope, error) {
	switch v := input.(type) {
	case []any:
		return envelope{records: toRecords(v)}, nil
	case []map[string]any:
		recs := make([]resolve.Record, len(v))
		for i, m := range v {
			recs[i] = resolve.Record(m)
		}
		return envelope{records: recs}, nil
	case []resolve.Record:
		return envelope{records: v}, nil
	case map[string]any:
		return n.unwrapObject(resolve.Record(v))
	case resolve.Record:
		return n.unwrapObject(v)
	case nil:
		return envelope{}, &InputError{Reason: "empty input"}
	}
	return envelope{}, &InputError{Reason: fmt.Sprintf("unsupported input type %T", input)}
}

func (n *Normalizer) unwrapObject(obj resolve.Record) (envelope, error) {
	raw, ok := obj["findings"]
	if !ok {
		return envelope{}, &InputError{Reason: "object has no findings member"}
	}
	list, ok := raw.([]any)
	if !ok {
		return envelope{}, &InputError{Reason: fmt.Sprintf("findings member is %T, want array", raw)}
	}

	env := envelope{records: toRecords(list)}
	env.tool, _ = toolField.String(obj)
	env.selection = selectionField.Strings(obj)
	env.provider = n.provider(obj)
	return env, nil
}

func toRecords(list []any) []resolve.Record {
	recs := make([]resolve.Record, len(list))
	for i, item := range list {
		switch m := item.(type) {
		case map[string]any:
			recs[i] = resolve.Record(m)
		case resolve.Record:
			recs[i] = m
		default:
			// Non-object entries still yield a finding, with every field absent.
			recs[i] = resolve.Record{}
		}
	}
	return recs
}

// Record normalizes a single raw record. provider is used when the record
// carries no recognizable provider of its own.
func (n *Normalizer) Record(rec resolve.Record, provider finding.Provider, tool string, selection []string) finding.Finding {
	f := finding.Finding{Provider: provider}
	if p := n.provider(rec); p != "" {
		f.Provider = p
	}

	f.CheckID, _ = resolve.CheckID.String(rec)
	f.Title, _ = resolve.Title.String(rec)
	f.Service, _ = resolve.Service.String(rec)
	f.Severity = n.severity(rec)
	f.Status = n.status(rec)
	f.AccountID, _ = resolve.AccountID.String(rec)
	f.SubscriptionID, _ = resolve.SubscriptionID.String(rec)
	f.ProjectID, _ = resolve.ProjectID.String(rec)
	f.Region, _ = resolve.Region.String(rec)
	f.ResourceID, _ = resolve.ResourceID.String(rec)
	f.ResourceARN, _ = resolve.ResourceARN.String(rec)
	f.Risk, _ = resolve.Risk.String(rec)
	f.Remediation, f.RemediationDetail = resolve.Remediation(rec)
	f.Categories = resolve.Categories.Strings(rec)
	f.Timestamp, _ = resolve.Timestamp.String(rec)
	f.Description, _ = resolve.Description.String(rec)

	derived := n.catalog.Controls(tool, f.CheckID, selection)
	f.Frameworks = finding.MergeFrameworks(resolve.Frameworks(rec), derived)

	if f.Severity == "" {
		if sev, ok := n.catalog.SeverityOverride(tool, f.CheckID, selection); ok {
			f.Severity = sev
		}
	}
	return f
}

// firstProvider returns the first recognized record provider. Unknown
// values are skipped without notifying the observer; Record reports them.
func firstProvider(records []resolve.Record) finding.Provider {
	for _, rec := range records {
		raw, ok := resolve.Provider.String(rec)
		if !ok {
			continue
		}
		if p, ok := finding.ParseProvider(raw); ok {
			return p
		}
	}
	return ""
}

func (n *Normalizer) provider(rec resolve.Record) finding.Provider {
	raw, ok := resolve.Provider.String(rec)
	if !ok {
		return ""
	}
	p, ok := finding.ParseProvider(raw)
	if !ok {
		n.unmapped(resolve.Provider.Name, raw)
		return ""
	}
	return p
}

func (n *Normalizer) severity(rec resolve.Record) finding.Severity {
	raw, ok := resolve.Severity.String(rec)
	if !ok {
		return ""
	}
	sev, ok := finding.ParseSeverity(raw)
	if !ok {
		n.unmapped(resolve.Severity.Name, raw)
	}
	return sev
}

func (n *Normalizer) status(rec resolve.Record) finding.Status {
	raw, ok := resolve.Status.String(rec)
	if !ok {
		return ""
	}
	st, ok := finding.ParseStatus(raw)
	if !ok {
		n.unmapped(resolve.Status.Name, raw)
	}
	return st
}

func (n *Normalizer) unmapped(field, value string) {
	n.observer.Unmapped(field, value)
	n.logger.Debug().
		Str("field", field).
		Str("value", value).
		Msg("unrecognized value dropped")
}
