// Package redact masks account and resource identifiers in findings.
package redact

import (
	"strings"

	"github.com/yairfalse/vahti/pkg/finding"
)

// Placeholder replaces values too short to mask partially.
const Placeholder = "***REDACTED***"

// Value keeps the first and last two characters of s and masks the rest.
// Values of four characters or fewer become Placeholder. Empty stays empty.
// Characters are counted as runes.
func Value(s string) string {
	r := []rune(s)
	switch n := len(r); {
	case n == 0:
		return ""
	case n <= 4:
		return Placeholder
	default:
		return string(r[:2]) + strings.Repeat("*", n-4) + string(r[n-2:])
	}
}

// Finding returns a copy of f with identifiers masked.
func Finding(f finding.Finding) finding.Finding {
	f.AccountID = Value(f.AccountID)
	f.SubscriptionID = Value(f.SubscriptionID)
	f.ProjectID = Value(f.ProjectID)
	f.ResourceID = Value(f.ResourceID)
	f.ResourceARN = Value(f.ResourceARN)
	return f
}

// Findings masks every finding into a new slice.
func Findings(fs []finding.Finding) []finding.Finding {
	out := make([]finding.Finding, len(fs))
	for i, f := range fs {
		out[i] = Finding(f)
	}
	return out
}

// Report returns a copy of r with masked findings.
func Report(r finding.Report) finding.Report {
	r.Findings = Findings(r.Findings)
	return r
}
