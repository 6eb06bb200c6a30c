package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/vahti/internal/emitter"
	"github.com/yairfalse/vahti/internal/framework"
	"github.com/yairfalse/vahti/internal/normalizer"
	"github.com/yairfalse/vahti/internal/store"
	"github.com/yairfalse/vahti/pkg/finding"
)

const scanOutput = `[
  {"check_id": "iam_root_mfa_enabled", "check_title": "Root MFA", "status": "FAIL", "severity": "critical",
   "service_name": "iam", "account_id": "123456789012", "resource_arn": "arn:aws:iam::123456789012:root"},
  {"check_id": "s3_bucket_public", "check_title": "Public bucket", "status": "PASS", "severity": "high",
   "service_name": "s3", "account_id": "123456789012", "resource_arn": "arn:aws:s3:::logs"},
  {"check_id": "ec2_imdsv2", "check_title": "IMDSv2", "status": "FAIL", "severity": "medium",
   "service_name": "ec2", "account_id": "123456789012"}
]`

type countingEmitter struct {
	results []emitter.Result
}

func (c *countingEmitter) Emit(_ context.Context, r emitter.Result) error {
	c.results = append(c.results, r)
	return nil
}

func (c *countingEmitter) Close() error { return nil }

var errDiskFull = errors.New("disk full")

type failingStore struct{}

func (failingStore) Put(finding.Report) (store.Record, error) { return store.Record{}, errDiskFull }
func (failingStore) Get(string) (store.Record, error)         { return store.Record{}, store.ErrNotFound }
func (failingStore) List(int) ([]store.Record, error)         { return nil, errDiskFull }
func (failingStore) Delete(string) error                      { return store.ErrNotFound }

func newTestServer(t *testing.T, redact bool) (http.Handler, *countingEmitter) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	em := &countingEmitter{}
	srv := New(Config{
		Mapper:          framework.Default(),
		Normalizer:      normalizer.New(),
		Store:           st,
		Logger:          zerolog.Nop(),
		Emitter:         em,
		DefaultProvider: finding.ProviderAWS,
		TopControls:     5,
		RedactIDs:       redact,
	})
	return srv.Routes(), em
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func ingest(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/reports", scanOutput)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[map[string]any](t, rec)
	id, _ := resp["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, false)
	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIngest(t *testing.T) {
	h, em := newTestServer(t, false)

	rec := do(t, h, http.MethodPost, "/api/reports", scanOutput)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID      string `json:"id"`
		Summary struct {
			Total      int            `json:"total"`
			BySeverity map[string]int `json:"by_severity"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, 3, resp.Summary.Total)
	assert.Equal(t, 1, resp.Summary.BySeverity["critical"])

	require.Len(t, em.results, 1)
	assert.Equal(t, resp.ID, em.results[0].ReportID)
	assert.Equal(t, finding.ProviderAWS, em.results[0].Report.Provider)
	assert.Len(t, em.results[0].Views.TopFailedControls, 2)
}

func TestIngest_ProviderQuery(t *testing.T) {
	h, em := newTestServer(t, false)

	rec := do(t, h, http.MethodPost, "/api/reports?provider=GCP", `[{"check_id":"x","status":"PASS"}]`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, em.results, 1)
	assert.Equal(t, finding.ProviderGCP, em.results[0].Report.Provider)

	rec = do(t, h, http.MethodPost, "/api/reports?provider=oracle", scanOutput)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngest_Malformed(t *testing.T) {
	h, em := newTestServer(t, false)

	for _, body := range []string{`{"not":"findings"}`, `[{"a":1}`, `"text"`, `[] []`} {
		rec := do(t, h, http.MethodPost, "/api/reports", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		resp := decode[map[string]string](t, rec)
		assert.Contains(t, resp["error"], "malformed input", body)
	}
	assert.Empty(t, em.results)
}

func TestIngest_StoreFailure(t *testing.T) {
	srv := New(Config{
		Mapper:     framework.Default(),
		Normalizer: normalizer.New(),
		Store:      failingStore{},
		Logger:     zerolog.Nop(),
	})
	rec := do(t, srv.Routes(), http.MethodPost, "/api/reports?provider=aws", scanOutput)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk full")
}

func TestGetReport(t *testing.T) {
	h, _ := newTestServer(t, false)
	id := ingest(t, h)

	rec := do(t, h, http.MethodGet, "/api/reports/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[store.Record](t, rec)
	assert.Equal(t, id, got.ID)
	require.Len(t, got.Report.Findings, 3)
	assert.Equal(t, "iam_root_mfa_enabled", got.Report.Findings[0].CheckID)
	assert.Equal(t, "123456789012", got.Report.Findings[0].AccountID)
}

func TestGetReport_Redacted(t *testing.T) {
	h, _ := newTestServer(t, true)
	id := ingest(t, h)

	rec := do(t, h, http.MethodGet, "/api/reports/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[store.Record](t, rec)
	assert.Equal(t, "12********12", got.Report.Findings[0].AccountID)
	assert.NotContains(t, rec.Body.String(), "123456789012")
}

func TestGetReport_NotFound(t *testing.T) {
	h, _ := newTestServer(t, false)
	rec := do(t, h, http.MethodGet, "/api/reports/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListReports(t *testing.T) {
	h, _ := newTestServer(t, false)
	first := ingest(t, h)
	second := ingest(t, h)

	rec := do(t, h, http.MethodGet, "/api/reports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	headers := decode[[]reportHeader](t, rec)
	require.Len(t, headers, 2)

	ids := []string{headers[0].ID, headers[1].ID}
	assert.ElementsMatch(t, []string{first, second}, ids)
	assert.Equal(t, 3, headers[0].Findings)
	assert.Equal(t, "prowler", headers[0].Tool)

	rec = do(t, h, http.MethodGet, "/api/reports?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]reportHeader](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/reports?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListReports_Empty(t *testing.T) {
	h, _ := newTestServer(t, false)
	rec := do(t, h, http.MethodGet, "/api/reports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestDeleteReport(t *testing.T) {
	h, _ := newTestServer(t, false)
	id := ingest(t, h)

	rec := do(t, h, http.MethodDelete, "/api/reports/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/reports/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/reports/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuery(t *testing.T) {
	h, _ := newTestServer(t, false)
	id := ingest(t, h)

	body := `{"predicate":{"statuses":["FAIL"],"search_query":"IAM"},"top":1}`
	rec := do(t, h, http.MethodPost, "/api/reports/"+id+"/query", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Findings []finding.Finding `json:"findings"`
		Views    struct {
			Summary struct {
				Total int `json:"total"`
			} `json:"summary"`
			TopFailedControls []map[string]any `json:"top_failed_controls"`
		} `json:"views"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Findings, 1)
	assert.Equal(t, "iam_root_mfa_enabled", resp.Findings[0].CheckID)
	assert.Equal(t, 1, resp.Views.Summary.Total)
	assert.Len(t, resp.Views.TopFailedControls, 1)
}

func TestQuery_EmptyBodyMatchesAll(t *testing.T) {
	h, _ := newTestServer(t, false)
	id := ingest(t, h)

	rec := do(t, h, http.MethodPost, "/api/reports/"+id+"/query", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[queryResponse](t, rec)
	assert.Len(t, resp.Findings, 3)
}

func TestQuery_RedactedMatchesStoredIdentifiers(t *testing.T) {
	h, _ := newTestServer(t, true)

	rec := do(t, h, http.MethodPost, "/api/reports", scanOutput)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ingested struct {
		ID      string          `json:"id"`
		Summary json.RawMessage `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ingested))

	type queried struct {
		Findings []finding.Finding `json:"findings"`
		Views    struct {
			Summary json.RawMessage `json:"summary"`
		} `json:"views"`
	}

	rec = do(t, h, http.MethodPost, "/api/reports/"+ingested.ID+"/query", `{}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	all := decode[queried](t, rec)
	assert.JSONEq(t, string(ingested.Summary), string(all.Views.Summary))

	var summary struct {
		UniqueResources int            `json:"unique_resources"`
		ResourceTypes   map[string]int `json:"resource_types"`
	}
	require.NoError(t, json.Unmarshal(all.Views.Summary, &summary))
	assert.Equal(t, 2, summary.UniqueResources)
	assert.Equal(t, map[string]int{"iam": 1, "s3": 1}, summary.ResourceTypes)

	rec = do(t, h, http.MethodPost, "/api/reports/"+ingested.ID+"/query", `{"predicate":{"search_query":"arn:aws:s3"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	byARN := decode[queried](t, rec)
	require.Len(t, byARN.Findings, 1)
	assert.Equal(t, "s3_bucket_public", byARN.Findings[0].CheckID)
	assert.Equal(t, "ar*************gs", byARN.Findings[0].ResourceARN)
	assert.NotContains(t, rec.Body.String(), "123456789012")
	assert.NotContains(t, rec.Body.String(), "arn:aws:s3:::logs")
}

func TestQuery_Errors(t *testing.T) {
	h, _ := newTestServer(t, false)
	id := ingest(t, h)

	rec := do(t, h, http.MethodPost, "/api/reports/"+id+"/query", `{"top":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/reports/"+id+"/query", `{"predicate":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/reports/missing/query", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFrameworks(t *testing.T) {
	h, _ := newTestServer(t, false)

	rec := do(t, h, http.MethodGet, "/api/frameworks/aws", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[frameworksResponse](t, rec)
	assert.Equal(t, finding.ProviderAWS, resp.Provider)
	assert.Contains(t, resp.Labels, "SOC 2")
	assert.Contains(t, resp.Labels, "CIS AWS Foundations")

	rec = do(t, h, http.MethodGet, "/api/frameworks/oracle", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListControls(t *testing.T) {
	h, _ := newTestServer(t, false)

	rec := do(t, h, http.MethodGet, "/api/frameworks/aws/controls", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sets := decode[[]controlSet](t, rec)
	require.Len(t, sets, 2)
	assert.Equal(t, "cis_2.0_aws", sets[0].MapID)
	assert.Equal(t, []string{"3.1"}, sets[0].Categories["Logging"])
	assert.Equal(t, "soc2_aws", sets[1].MapID)
	assert.Equal(t, []string{"CC6.1", "CC6.7", "CC7.2"}, sets[1].Categories["All Controls"])

	rec = do(t, h, http.MethodGet, "/api/frameworks/gcp/controls", "")
	require.Equal(t, http.StatusOK, rec.Code)
	gcp := decode[[]controlSet](t, rec)
	require.Len(t, gcp, 1)
	assert.Equal(t, "cis_2.0_gcp", gcp[0].MapID)

	rec = do(t, h, http.MethodGet, "/api/frameworks/oracle/controls", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListControls_CustomCatalog(t *testing.T) {
	m, err := framework.ParseMapping([]byte("map_id: house_aws\nname: House rules\nprovider: aws\nrules:\n  - source: prowler:x\n    target: HR-1\n"))
	require.NoError(t, err)
	catalog, err := framework.NewCatalog(m)
	require.NoError(t, err)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	h := New(Config{
		Mapper:     framework.Default(),
		Catalog:    catalog,
		Normalizer: normalizer.New(),
		Store:      st,
		Logger:     zerolog.Nop(),
	}).Routes()

	rec := do(t, h, http.MethodGet, "/api/frameworks/aws/controls", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"map_id":"house_aws","name":"House rules","controls_by_category":{"All Controls":["HR-1"]}}]`, rec.Body.String())
}

func TestResolveFrameworks(t *testing.T) {
	h, _ := newTestServer(t, false)

	rec := do(t, h, http.MethodPost, "/api/frameworks/aws/resolve", `{"labels":["soc 2","Made Up","SOC 2"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ids":["soc2_aws"],"unsupported":["Made Up"]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/frameworks/gcp/resolve", `{"labels":["CIS AWS Foundations"]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, []any{}, resp["ids"])
	assert.Equal(t, []any{"CIS AWS Foundations"}, resp["unsupported"])
	assert.Contains(t, resp["error"], "no supported frameworks")

	rec = do(t, h, http.MethodPost, "/api/frameworks/aws/resolve", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type recordingIngestLog struct {
	spans    []string
	spanErrs []error
	ingested []string
	rejected []error
}

func (r *recordingIngestLog) LogSpanStart(_ context.Context, name string, _ ...attribute.KeyValue) {
	r.spans = append(r.spans, name)
}

func (r *recordingIngestLog) LogSpanEnd(_ context.Context, _ string, err error) {
	r.spanErrs = append(r.spanErrs, err)
}

func (r *recordingIngestLog) LogReportIngested(_ context.Context, id, _, _ string, _ int) {
	r.ingested = append(r.ingested, id)
}

func (r *recordingIngestLog) LogReportRejected(_ context.Context, err error) {
	r.rejected = append(r.rejected, err)
}

func TestIngest_LogsOutcome(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	events := &recordingIngestLog{}
	h := New(Config{
		Mapper:          framework.Default(),
		Normalizer:      normalizer.New(),
		Store:           st,
		IngestLog:       events,
		Logger:          zerolog.Nop(),
		DefaultProvider: finding.ProviderAWS,
	}).Routes()

	id := ingest(t, h)
	rec := do(t, h, http.MethodPost, "/api/reports", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{id}, events.ingested)
	require.Len(t, events.rejected, 1)
	assert.ErrorIs(t, events.rejected[0], normalizer.ErrMalformedInput)

	assert.Equal(t, []string{"ingest report", "ingest report"}, events.spans)
	require.Len(t, events.spanErrs, 2)
	assert.NoError(t, events.spanErrs[0])
	assert.ErrorIs(t, events.spanErrs[1], normalizer.ErrMalformedInput)
}
