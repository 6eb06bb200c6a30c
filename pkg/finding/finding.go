// Package finding defines the canonical security finding model for Vahti.
package finding

// Finding is one security check result in provider-agnostic form.
// Every field except Provider is optional; absence is the zero value.
type Finding struct {
	CheckID     string   `json:"check_id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Provider    Provider `json:"provider"`
	Service     string   `json:"service,omitempty"`
	Severity    Severity `json:"severity,omitempty"`
	Status      Status   `json:"status,omitempty"`
	Description string   `json:"description,omitempty"`
	Risk        string   `json:"risk,omitempty"`
	Region      string   `json:"region,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"` // ISO-8601, kept as emitted by the tool

	// Account scope. Tools normally set the one matching Provider, but
	// conflicting scopes are preserved rather than rejected.
	AccountID      string `json:"account_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`

	ResourceID  string `json:"resource_id,omitempty"`
	ResourceARN string `json:"resource_arn,omitempty"`

	// Remediation is the flattened display text; RemediationDetail keeps
	// the structured form including the URL.
	Remediation       string       `json:"remediation,omitempty"`
	RemediationDetail *Remediation `json:"remediation_detail,omitempty"`

	Categories []string       `json:"categories,omitempty"`
	Frameworks []FrameworkRef `json:"frameworks,omitempty"`
}

// Remediation is structured remediation guidance.
type Remediation struct {
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// FrameworkRef associates a finding with a compliance framework and,
// optionally, one of its controls.
type FrameworkRef struct {
	Name    string `json:"name"`
	Control string `json:"control,omitempty"`
}

// Report is a normalized scan: tool/provider metadata plus findings in
// the order the tool produced them.
type Report struct {
	Tool               string    `json:"tool"`
	Provider           Provider  `json:"provider"`
	FrameworkSelection []string  `json:"framework_selection"`
	Findings           []Finding `json:"findings"`
}

// Locator returns the resource locator: ResourceID, else ResourceARN.
func (f Finding) Locator() string {
	if f.ResourceID != "" {
		return f.ResourceID
	}
	return f.ResourceARN
}

// Scope returns the account scope identifier, preferring the one that
// belongs to the finding's provider.
func (f Finding) Scope() string {
	var preferred string
	switch f.Provider {
	case ProviderAWS:
		preferred = f.AccountID
	case ProviderAzure:
		preferred = f.SubscriptionID
	case ProviderGCP:
		preferred = f.ProjectID
	}
	if preferred != "" {
		return preferred
	}
	for _, s := range []string{f.AccountID, f.SubscriptionID, f.ProjectID} {
		if s != "" {
			return s
		}
	}
	return ""
}

// FrameworkNames returns the distinct framework names referenced by the
// finding in first-occurrence order.
func (f Finding) FrameworkNames() []string {
	if len(f.Frameworks) == 0 {
		return nil
	}
	names := make([]string, 0, len(f.Frameworks))
	seen := make(map[string]bool, len(f.Frameworks))
	for _, ref := range f.Frameworks {
		if ref.Name == "" || seen[ref.Name] {
			continue
		}
		seen[ref.Name] = true
		names = append(names, ref.Name)
	}
	return names
}

// EntryKey identifies the checked entry (resource within a scope) so that
// repeated records for the same entry can be recognised.
func (f Finding) EntryKey() string {
	return f.CheckID + "|" + f.Locator() + "|" + f.Region + "|" + f.Scope()
}

// MergeFrameworks returns the union of a and b, a first, without duplicates.
func MergeFrameworks(a, b []FrameworkRef) []FrameworkRef {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]FrameworkRef, 0, len(a)+len(b))
	seen := make(map[FrameworkRef]bool, len(a)+len(b))
	for _, list := range [][]FrameworkRef{a, b} {
		for _, ref := range list {
			if ref.Name == "" || seen[ref] {
				continue
			}
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}
