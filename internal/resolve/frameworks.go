package resolve

import (
	"sort"
	"strings"

	"github.com/yairfalse/vahti/pkg/finding"
)

// Frameworks returns the compliance associations a record carries itself.
// Accepted shapes:
//
//	["soc2_aws", "cis_2.0_aws:1.4"]
//	[{"name": "soc2_aws", "control": "CC6.1"}, {"framework": "cis_2.0_aws"}]
//	{"CIS-2.0": ["1.4", "1.5"], "SOC2": "CC6.1"}
//
// Object keys are taken in sorted order since decoded JSON objects are unordered.
func Frameworks(rec Record) []finding.FrameworkRef {
	for _, src := range frameworkSources {
		v, ok := src.Lookup(rec)
		if !ok {
			continue
		}
		if refs := frameworkRefs(v); len(refs) > 0 {
			return finding.MergeFrameworks(refs, nil)
		}
	}
	return nil
}

func frameworkRefs(v any) []finding.FrameworkRef {
	switch val := v.(type) {
	case []any:
		var refs []finding.FrameworkRef
		for _, item := range val {
			if ref, ok := frameworkRef(item); ok {
				refs = append(refs, ref)
			}
		}
		return refs
	case map[string]any:
		return frameworkMap(val)
	case string:
		if ref, ok := frameworkRef(val); ok {
			return []finding.FrameworkRef{ref}
		}
	}
	return nil
}

func frameworkRef(item any) (finding.FrameworkRef, bool) {
	switch val := item.(type) {
	case string:
		name, control, _ := strings.Cut(strings.TrimSpace(val), ":")
		name = strings.TrimSpace(name)
		return finding.FrameworkRef{Name: name, Control: strings.TrimSpace(control)}, name != ""
	case map[string]any:
		rec := Record(val)
		name, ok := frameworkName.String(rec)
		if !ok {
			return finding.FrameworkRef{}, false
		}
		control, _ := frameworkControl.String(rec)
		return finding.FrameworkRef{Name: name, Control: control}, true
	}
	return finding.FrameworkRef{}, false
}

func frameworkMap(m map[string]any) []finding.FrameworkRef {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var refs []finding.FrameworkRef
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		controls := stringList(m[name])
		if len(controls) == 0 {
			refs = append(refs, finding.FrameworkRef{Name: trimmed})
			continue
		}
		for _, c := range controls {
			refs = append(refs, finding.FrameworkRef{Name: trimmed, Control: c})
		}
	}
	return refs
}

var (
	frameworkName    = Field{Name: "framework", Aliases: []Path{{"name"}, {"framework"}, {"id"}}}
	frameworkControl = Field{Name: "control", Aliases: []Path{{"control"}, {"control_id"}, {"requirement"}}}
)

// Remediation resolves both the flattened text and the structured form.
// The structured form is nil when neither text nor URL is present.
func Remediation(rec Record) (string, *finding.Remediation) {
	text, _ := RemediationText.String(rec)
	url, _ := RemediationURL.String(rec)
	if text == "" && url == "" {
		return "", nil
	}
	return text, &finding.Remediation{Text: text, URL: url}
}
