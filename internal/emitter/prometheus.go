package emitter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/vahti/internal/aggregate"
	"github.com/yairfalse/vahti/pkg/finding"
)

// PrometheusEmitter emits metrics in Prometheus format via OTEL. Gauges
// reflect the most recent report of each provider.
type PrometheusEmitter struct {
	meter metric.Meter

	// Metrics
	findings          metric.Int64ObservableGauge
	frameworkFindings metric.Int64ObservableGauge
	reportsTotal      metric.Int64Counter
	changesTotal      metric.Int64Counter

	// State for observable gauges
	mu        sync.RWMutex
	snapshots map[finding.Provider]snapshot

	// Diff tracking
	diffTracker *DiffTracker
}

type findingKey struct {
	severity string
	status   string
}

type frameworkKey struct {
	framework string
	outcome   string
}

type snapshot struct {
	findings   map[findingKey]int64
	frameworks map[frameworkKey]int64
}

// NewPrometheusEmitter creates a Prometheus emitter. A nil meter uses the
// global meter provider.
func NewPrometheusEmitter(meter metric.Meter) (*PrometheusEmitter, error) {
	if meter == nil {
		meter = otel.Meter("vahti")
	}

	e := &PrometheusEmitter{
		meter:       meter,
		snapshots:   make(map[finding.Provider]snapshot),
		diffTracker: NewDiffTracker(),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.findings, err = e.meter.Int64ObservableGauge(
		"vahti_findings",
		metric.WithDescription("Findings in the latest report by severity and status"),
		metric.WithUnit("{finding}"),
		metric.WithInt64Callback(e.observeFindings),
	)
	if err != nil {
		return fmt.Errorf("create findings gauge: %w", err)
	}

	e.frameworkFindings, err = e.meter.Int64ObservableGauge(
		"vahti_framework_findings",
		metric.WithDescription("Findings in the latest report by framework and outcome"),
		metric.WithUnit("{finding}"),
		metric.WithInt64Callback(e.observeFrameworks),
	)
	if err != nil {
		return fmt.Errorf("create framework_findings gauge: %w", err)
	}

	e.reportsTotal, err = e.meter.Int64Counter(
		"vahti_reports_total",
		metric.WithDescription("Total reports ingested"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return fmt.Errorf("create reports counter: %w", err)
	}

	e.changesTotal, err = e.meter.Int64Counter(
		"vahti_finding_changes_total",
		metric.WithDescription("Total finding changes detected between reports"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return fmt.Errorf("create finding_changes counter: %w", err)
	}

	return nil
}

// Emit records the report as metrics.
func (e *PrometheusEmitter) Emit(ctx context.Context, result Result) error {
	report := result.Report
	e.reportsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", report.Tool),
		attribute.String("provider", string(report.Provider)),
	))

	e.emitDiffs(ctx, report)

	snap := newSnapshot(report.Findings)
	e.mu.Lock()
	e.snapshots[report.Provider] = snap
	e.mu.Unlock()

	log.Info().
		Str("report", result.ReportID).
		Str("tool", report.Tool).
		Str("provider", string(report.Provider)).
		Int("findings", len(report.Findings)).
		Msg("report recorded")

	return nil
}

func newSnapshot(findings []finding.Finding) snapshot {
	s := snapshot{
		findings:   make(map[findingKey]int64),
		frameworks: make(map[frameworkKey]int64),
	}
	for _, f := range findings {
		s.findings[findingKey{severity: label(string(f.Severity)), status: label(string(f.Status))}]++
	}

	cov := aggregate.FrameworkCoverage(findings)
	cov.Range(func(name string, c aggregate.Coverage) bool {
		s.frameworks[frameworkKey{name, "passed"}] = int64(c.Passed)
		s.frameworks[frameworkKey{name, "failed"}] = int64(c.Failed)
		s.frameworks[frameworkKey{name, "other"}] = int64(c.Total - c.Passed - c.Failed)
		return true
	})
	return s
}

func label(v string) string {
	if v == "" {
		return aggregate.Unspecified
	}
	return v
}

// emitDiffs tracks the report and emits metrics/logs for changes.
func (e *PrometheusEmitter) emitDiffs(ctx context.Context, report finding.Report) {
	diffs := e.diffTracker.Track(report.Provider, report.Findings)
	if diffs == nil {
		// First report for this provider - baseline established
		return
	}

	for _, diff := range diffs {
		e.changesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", string(report.Provider)),
			attribute.String("change_type", string(diff.Type)),
		))

		logEvent := log.Info().
			Str("check_id", diff.Finding.CheckID).
			Str("resource", diff.Finding.Locator()).
			Str("provider", string(report.Provider)).
			Str("change", string(diff.Type))

		if diff.Type == DiffModified {
			for _, field := range sortedFields(diff.Changes) {
				change := diff.Changes[field]
				logEvent = logEvent.
					Str(field+".from", change.Previous).
					Str(field+".to", change.Current)
			}
		}

		logEvent.Msg("finding changed")
	}
}

func sortedFields(changes map[string]FieldChange) []string {
	fields := make([]string, 0, len(changes))
	for k := range changes {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// observeFindings is the callback for the findings gauge.
func (e *PrometheusEmitter) observeFindings(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for provider, snap := range e.snapshots {
		for k, n := range snap.findings {
			o.Observe(n, metric.WithAttributes(
				attribute.String("provider", string(provider)),
				attribute.String("severity", k.severity),
				attribute.String("status", k.status),
			))
		}
	}
	return nil
}

// observeFrameworks is the callback for the framework_findings gauge.
func (e *PrometheusEmitter) observeFrameworks(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for provider, snap := range e.snapshots {
		for k, n := range snap.frameworks {
			o.Observe(n, metric.WithAttributes(
				attribute.String("provider", string(provider)),
				attribute.String("framework", k.framework),
				attribute.String("outcome", k.outcome),
			))
		}
	}
	return nil
}

// Close is a no-op for Prometheus emitter.
func (e *PrometheusEmitter) Close() error {
	return nil
}
