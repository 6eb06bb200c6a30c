package finding

import "strings"

// Provider is a cloud provider.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderGCP   Provider = "gcp"
	ProviderAzure Provider = "azure"
)

// Providers lists every supported provider.
var Providers = []Provider{ProviderAWS, ProviderGCP, ProviderAzure}

// Severity is a normalized severity level. The zero value means absent.
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "informational"
)

// Severities lists severities from most to least severe.
var Severities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInformational,
}

// Status is a normalized check outcome. The zero value means absent.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusInfo Status = "INFO"
	StatusSkip Status = "SKIP"
)

// Statuses lists every status.
var Statuses = []Status{StatusPass, StatusFail, StatusInfo, StatusSkip}

var providerVocabulary = map[string]Provider{
	"aws":       ProviderAWS,
	"amazon":    ProviderAWS,
	"gcp":       ProviderGCP,
	"google":    ProviderGCP,
	"azure":     ProviderAzure,
	"microsoft": ProviderAzure,
}

var severityVocabulary = map[string]Severity{
	"critical":      SeverityCritical,
	"crit":          SeverityCritical,
	"high":          SeverityHigh,
	"medium":        SeverityMedium,
	"med":           SeverityMedium,
	"moderate":      SeverityMedium,
	"low":           SeverityLow,
	"informational": SeverityInformational,
	"information":   SeverityInformational,
	"info":          SeverityInformational,
	"notice":        SeverityInformational,
}

var statusVocabulary = map[string]Status{
	"pass":           StatusPass,
	"passed":         StatusPass,
	"success":        StatusPass,
	"ok":             StatusPass,
	"fail":           StatusFail,
	"failed":         StatusFail,
	"failure":        StatusFail,
	"error":          StatusFail,
	"info":           StatusInfo,
	"informational":  StatusInfo,
	"information":    StatusInfo,
	"manual":         StatusInfo,
	"skip":           StatusSkip,
	"skipped":        StatusSkip,
	"muted":          StatusSkip,
	"not_applicable": StatusSkip,
	"n/a":            StatusSkip,
	"na":             StatusSkip,
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseProvider maps a raw provider string onto the closed vocabulary.
func ParseProvider(s string) (Provider, bool) {
	p, ok := providerVocabulary[key(s)]
	return p, ok
}

// ParseSeverity maps a raw severity string onto the closed vocabulary.
// Unknown values return ("", false); they are never guessed.
func ParseSeverity(s string) (Severity, bool) {
	sev, ok := severityVocabulary[key(s)]
	return sev, ok
}

// ParseStatus maps a raw status string onto the closed vocabulary.
func ParseStatus(s string) (Status, bool) {
	st, ok := statusVocabulary[key(s)]
	return st, ok
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAWS, ProviderGCP, ProviderAzure:
		return true
	}
	return false
}

// Valid reports whether s is a member of the vocabulary.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInformational:
		return true
	}
	return false
}

// Valid reports whether s is a member of the vocabulary.
func (s Status) Valid() bool {
	switch s {
	case StatusPass, StatusFail, StatusInfo, StatusSkip:
		return true
	}
	return false
}
