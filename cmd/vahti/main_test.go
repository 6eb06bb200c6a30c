package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/internal/framework"
	"github.com/yairfalse/vahti/pkg/finding"
)

const scanFile = `[
  {"check_id": "iam_root_mfa_enabled", "check_title": "Root MFA", "status": "FAIL", "severity": "critical",
   "provider": "aws", "service_name": "iam", "account_id": "123456789012"},
  {"check_id": "s3_bucket_public", "check_title": "Public bucket", "status": "PASS", "severity": "high",
   "provider": "aws", "service_name": "s3", "account_id": "123456789012"}
]`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs the CLI with args, resetting flags left over from earlier runs.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	configPath, debug = "", false
	normalizeProvider, normalizeRedact = "", false
	summarizeProvider, summarizeQuery, summarizeTop, summarizeRedact = "", "", 0, false
	summarizeSeverities, summarizeStatuses, summarizeFrameworks = nil, nil, nil

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestNormalize(t *testing.T) {
	path := writeFile(t, "scan.json", scanFile)

	out, _, err := execute(t, "normalize", path)
	require.NoError(t, err)

	var report finding.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "prowler", report.Tool)
	assert.Equal(t, finding.ProviderAWS, report.Provider)
	require.Len(t, report.Findings, 2)
	assert.Equal(t, finding.SeverityCritical, report.Findings[0].Severity)
	assert.Equal(t, "123456789012", report.Findings[0].AccountID)
	assert.NotEmpty(t, report.Findings[0].Frameworks)
}

func TestNormalize_Redact(t *testing.T) {
	path := writeFile(t, "scan.json", scanFile)

	out, _, err := execute(t, "normalize", "--redact", path)
	require.NoError(t, err)
	assert.Contains(t, out, "12********12")
	assert.NotContains(t, out, "123456789012")
}

func TestNormalize_ProviderHint(t *testing.T) {
	path := writeFile(t, "scan.json", `[{"check_id":"x","status":"PASS"}]`)

	_, _, err := execute(t, "normalize", path)
	require.Error(t, err)

	out, _, err := execute(t, "normalize", "--provider", "gcp", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"provider": "gcp"`)

	_, _, err = execute(t, "normalize", "--provider", "oracle", path)
	assert.ErrorContains(t, err, "unknown provider")
}

func TestNormalize_MissingFile(t *testing.T) {
	_, _, err := execute(t, "normalize", filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorContains(t, err, "read input")
}

func TestSummarize_Filters(t *testing.T) {
	path := writeFile(t, "scan.json", scanFile)

	out, _, err := execute(t, "summarize", "--severity", "critical", path)
	require.NoError(t, err)

	var result struct {
		Report finding.Report `json:"report"`
		Views  struct {
			Summary struct {
				Total int `json:"total"`
			} `json:"summary"`
			TopFailedControls []map[string]any `json:"top_failed_controls"`
		} `json:"views"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 1, result.Views.Summary.Total)
	require.Len(t, result.Report.Findings, 1)
	assert.Equal(t, "iam_root_mfa_enabled", result.Report.Findings[0].CheckID)
	assert.Len(t, result.Views.TopFailedControls, 1)
}

func TestSummarize_InvalidFlags(t *testing.T) {
	path := writeFile(t, "scan.json", scanFile)

	_, _, err := execute(t, "summarize", "--severity", "spicy", path)
	assert.ErrorContains(t, err, "unknown severity")

	_, _, err = execute(t, "summarize", "--status", "MAYBE", path)
	assert.ErrorContains(t, err, "unknown status")

	_, _, err = execute(t, "summarize", "--top=-1", path)
	assert.Error(t, err)
}

func TestFrameworksList(t *testing.T) {
	out, _, err := execute(t, "frameworks", "list", "aws")
	require.NoError(t, err)
	assert.Contains(t, out, "SOC 2")
	assert.Contains(t, out, "soc2_aws")

	_, _, err = execute(t, "frameworks", "list", "oracle")
	assert.ErrorContains(t, err, "unknown provider")
}

func TestFrameworksResolve(t *testing.T) {
	out, errOut, err := execute(t, "frameworks", "resolve", "aws", "soc 2", "Made Up")
	require.NoError(t, err)
	assert.Equal(t, "soc2_aws\n", out)
	assert.Contains(t, errOut, "unsupported: Made Up")
}

func TestFrameworksResolve_NoneSupported(t *testing.T) {
	out, _, err := execute(t, "frameworks", "resolve", "gcp", "CIS AWS Foundations")
	require.Error(t, err)
	assert.ErrorIs(t, err, framework.ErrUnsupportedFrameworkSelection)
	assert.Empty(t, out)
}

func TestConfig_CustomLabels(t *testing.T) {
	labels := writeFile(t, "labels.yaml", "aws:\n  \"House Rules\": house_aws\n")
	cfgPath := writeFile(t, "vahti.toml", "[frameworks]\nlabels_file = \""+filepath.ToSlash(labels)+"\"\n")

	out, _, err := execute(t, "--config", cfgPath, "frameworks", "resolve", "aws", "house rules")
	require.NoError(t, err)
	assert.Equal(t, "house_aws\n", out)
}

func TestConfig_Invalid(t *testing.T) {
	cfgPath := writeFile(t, "vahti.toml", "[report]\ntop_controls = -1\n")

	_, _, err := execute(t, "--config", cfgPath, "frameworks", "list", "aws")
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoadFrameworks_MappingsDir(t *testing.T) {
	dir := t.TempDir()
	mapping := `map_id: house_aws
name: House rules
provider: aws
rules:
  - source: prowler:iam_root_mfa_enabled
    target: HR-1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "house.yaml"), []byte(mapping), 0o600))

	cfgPath := writeFile(t, "vahti.toml", "[frameworks]\nmappings_dir = \""+filepath.ToSlash(dir)+"\"\n")
	path := writeFile(t, "scan.json", scanFile)

	out, _, err := execute(t, "--config", cfgPath, "normalize", path)
	require.NoError(t, err)

	var report finding.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Contains(t, report.Findings[0].Frameworks, finding.FrameworkRef{Name: "house_aws", Control: "HR-1"})
}
