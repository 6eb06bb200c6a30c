package aggregate

import (
	"slices"
	"strings"
	"time"

	"github.com/yairfalse/vahti/pkg/finding"
)

// TimeRange is the span of parseable finding timestamps.
type TimeRange struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// Summary is the headline statistics of a finding set.
type Summary struct {
	Total             int          `json:"total"`
	BySeverity        Ordered[int] `json:"by_severity"`
	ByStatus          Ordered[int] `json:"by_status"`
	ByRegion          Ordered[int] `json:"by_region"`
	FrameworksCovered []string     `json:"frameworks_covered"`
	ScanTimeRange     TimeRange    `json:"scan_time_range"`
	UniqueResources   int          `json:"unique_resources"`
	UniqueAccounts    int          `json:"unique_accounts"`
	ResourceTypes     Ordered[int] `json:"resource_types"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Summarize computes the headline statistics.
func Summarize(findings []finding.Finding) Summary {
	s := Summary{Total: len(findings)}
	for _, sev := range finding.Severities {
		s.BySeverity.Set(string(sev), 0)
	}
	s.BySeverity.Set(Unspecified, 0)
	for _, st := range finding.Statuses {
		s.ByStatus.Set(string(st), 0)
	}
	s.ByStatus.Set(Unspecified, 0)

	incr := func(n int) int { return n + 1 }
	frameworks := make(map[string]bool)
	resources := make(map[string]bool)
	accounts := make(map[string]bool)

	for _, f := range findings {
		sev := Unspecified
		if f.Severity.Valid() {
			sev = string(f.Severity)
		}
		s.BySeverity.update(sev, incr)

		st := Unspecified
		if f.Status.Valid() {
			st = string(f.Status)
		}
		s.ByStatus.update(st, incr)

		region := f.Region
		if region == "" {
			region = Unspecified
		}
		s.ByRegion.update(region, incr)

		for _, name := range f.FrameworkNames() {
			frameworks[name] = true
		}

		if loc := f.Locator(); loc != "" {
			resources[loc] = true
			if typ := ResourceType(loc); typ != "" {
				s.ResourceTypes.update(typ, incr)
			}
		}
		if scope := f.Scope(); scope != "" {
			accounts[scope] = true
		}

		if ts, ok := parseTime(f.Timestamp); ok {
			if s.ScanTimeRange.Start == nil || ts.Before(*s.ScanTimeRange.Start) {
				s.ScanTimeRange.Start = &ts
			}
			if s.ScanTimeRange.End == nil || ts.After(*s.ScanTimeRange.End) {
				s.ScanTimeRange.End = &ts
			}
		}
	}

	s.FrameworksCovered = sortedKeys(frameworks)
	s.UniqueResources = len(resources)
	s.UniqueAccounts = len(accounts)
	return s
}

func parseTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// ResourceType derives a resource type from an ARN, a GCP full resource
// name or an Azure resource id. It returns "" when none applies.
func ResourceType(locator string) string {
	switch {
	case strings.HasPrefix(locator, "arn:"):
		parts := strings.SplitN(locator, ":", 4)
		if len(parts) >= 3 {
			return parts[2]
		}
	case strings.Contains(locator, "googleapis.com"):
		if _, rest, ok := strings.Cut(locator, "//"); ok {
			service, _, _ := strings.Cut(rest, ".")
			return service
		}
	case strings.HasPrefix(strings.ToLower(locator), "/subscriptions/"):
		parts := strings.Split(locator, "/")
		i := slices.IndexFunc(parts, func(p string) bool { return strings.EqualFold(p, "providers") })
		switch {
		case i < 0 || i+1 >= len(parts):
			return ""
		case i+2 < len(parts):
			return parts[i+1] + "/" + parts[i+2]
		default:
			return parts[i+1]
		}
	}
	return ""
}
