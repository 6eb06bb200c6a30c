package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/vahti/internal/aggregate"
	"github.com/yairfalse/vahti/internal/emitter"
	"github.com/yairfalse/vahti/internal/filter"
	"github.com/yairfalse/vahti/internal/framework"
	"github.com/yairfalse/vahti/internal/normalizer"
	"github.com/yairfalse/vahti/internal/redact"
	"github.com/yairfalse/vahti/internal/store"
	"github.com/yairfalse/vahti/pkg/finding"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func providerParam(r *http.Request) (finding.Provider, error) {
	raw := chi.URLParam(r, "provider")
	p, ok := finding.ParseProvider(raw)
	if !ok {
		return "", fmt.Errorf("unknown provider %q", raw)
	}
	return p, nil
}

type frameworksResponse struct {
	Provider finding.Provider `json:"provider"`
	Labels   []string         `json:"labels"`
}

func (s *Server) handleListFrameworks(w http.ResponseWriter, r *http.Request) {
	p, err := providerParam(r)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return
	}
	render.JSON(w, r, frameworksResponse{Provider: p, Labels: s.mapper.Labels(p)})
}

type controlSet struct {
	MapID      string              `json:"map_id"`
	Name       string              `json:"name"`
	Version    string              `json:"version,omitempty"`
	Categories map[string][]string `json:"controls_by_category"`
}

// handleListControls lists the catalog frameworks for a provider with
// their controls grouped by category.
func (s *Server) handleListControls(w http.ResponseWriter, r *http.Request) {
	p, err := providerParam(r)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return
	}

	out := make([]controlSet, 0)
	for _, id := range s.catalog.MapIDs() {
		m, ok := s.catalog.Get(id)
		if !ok || !strings.EqualFold(m.Provider, string(p)) {
			continue
		}
		out = append(out, controlSet{
			MapID:      m.MapID,
			Name:       m.Name,
			Version:    m.Version,
			Categories: m.ControlsByCategory(),
		})
	}
	render.JSON(w, r, out)
}

type resolveRequest struct {
	Labels []string `json:"labels"`
}

type resolveResponse struct {
	framework.Selection
	Error string `json:"error,omitempty"`
}

func (s *Server) handleResolveFrameworks(w http.ResponseWriter, r *http.Request) {
	p, err := providerParam(r)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return
	}

	var req resolveRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}

	sel, err := s.mapper.Select(p, req.Labels)
	if errors.Is(err, framework.ErrUnsupportedFrameworkSelection) {
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, resolveResponse{Selection: sel, Error: err.Error()})
		return
	}
	render.JSON(w, r, resolveResponse{Selection: sel})
}

type ingestResponse struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Summary   aggregate.Summary `json:"summary"`
}

const ingestSpan = "ingest report"

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("vahti/api").Start(r.Context(), ingestSpan)
	defer span.End()
	logger := hlog.FromRequest(r)

	var failure error
	s.ingestLog.LogSpanStart(ctx, ingestSpan, attribute.String("default_provider", string(s.defaultProvider)))
	defer func() { s.ingestLog.LogSpanEnd(ctx, ingestSpan, failure) }()

	hint := s.defaultProvider
	if raw := r.URL.Query().Get("provider"); raw != "" {
		p, ok := finding.ParseProvider(raw)
		if !ok {
			failure = fmt.Errorf("unknown provider %q", raw)
			writeError(w, r, http.StatusBadRequest, failure)
			return
		}
		hint = p
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		failure = fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
		writeError(w, r, http.StatusRequestEntityTooLarge, failure)
		return
	}
	if err != nil {
		failure = fmt.Errorf("read body: %w", err)
		writeError(w, r, http.StatusBadRequest, failure)
		return
	}

	start := time.Now()
	report, err := s.normalizer.Decode(data, hint)
	if errors.Is(err, normalizer.ErrMalformedInput) {
		failure = err
		s.ingestLog.LogReportRejected(ctx, err)
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		failure = err
		logger.Error().Err(err).Msg("normalize report")
		writeError(w, r, http.StatusInternalServerError, errors.New("normalize report failed"))
		return
	}
	s.recorder.RecordNormalize(ctx, report.Tool, string(report.Provider), len(report.Findings), time.Since(start))
	span.SetAttributes(
		attribute.String("tool", report.Tool),
		attribute.String("provider", string(report.Provider)),
		attribute.Int("findings", len(report.Findings)),
	)

	rec, err := s.store.Put(report)
	if err != nil {
		failure = err
		logger.Error().Err(err).Msg("store report")
		writeError(w, r, http.StatusInternalServerError, errors.New("store report failed"))
		return
	}

	views := aggregate.Build(report.Findings, s.topControls)
	if err := s.emitter.Emit(ctx, emitter.Result{ReportID: rec.ID, Report: report, Views: views}); err != nil {
		// Already stored; emit errors do not fail the upload.
		logger.Error().Err(err).Str("report", rec.ID).Msg("emit report")
	}

	s.ingestLog.LogReportIngested(ctx, rec.ID, report.Tool, string(report.Provider), len(report.Findings))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ingestResponse{ID: rec.ID, CreatedAt: rec.CreatedAt, Summary: views.Summary})
}

type reportHeader struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Tool      string           `json:"tool"`
	Provider  finding.Provider `json:"provider"`
	Findings  int              `json:"findings"`
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	records, err := s.store.List(limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list reports")
		writeError(w, r, http.StatusInternalServerError, errors.New("list reports failed"))
		return
	}

	out := make([]reportHeader, 0, len(records))
	for _, rec := range records {
		out = append(out, reportHeader{
			ID:        rec.ID,
			CreatedAt: rec.CreatedAt,
			Tool:      rec.Report.Tool,
			Provider:  rec.Report.Provider,
			Findings:  len(rec.Report.Findings),
		})
	}
	render.JSON(w, r, out)
}

// loadReport writes the error response itself and reports whether it
// found the record. The record is returned unredacted.
func (s *Server) loadReport(w http.ResponseWriter, r *http.Request) (store.Record, bool) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("report %s not found", id))
		return store.Record{}, false
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("report", id).Msg("load report")
		writeError(w, r, http.StatusInternalServerError, errors.New("load report failed"))
		return store.Record{}, false
	}
	return rec, true
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadReport(w, r)
	if !ok {
		return
	}
	if s.redactIDs {
		rec.Report = redact.Report(rec.Report)
	}
	render.JSON(w, r, rec)
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.Delete(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("report %s not found", id))
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("report", id).Msg("delete report")
		writeError(w, r, http.StatusInternalServerError, errors.New("delete report failed"))
		return
	}
	render.NoContent(w, r)
}

type queryRequest struct {
	Predicate filter.Predicate `json:"predicate"`
	Top       int              `json:"top,omitempty"`
}

type queryResponse struct {
	Findings []finding.Finding `json:"findings"`
	Views    aggregate.Views   `json:"views"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if req.Top < 0 {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("top must not be negative"))
		return
	}
	top := req.Top
	if top == 0 {
		top = s.topControls
	}

	rec, ok := s.loadReport(w, r)
	if !ok {
		return
	}

	// Filtering and aggregation see the stored identifiers; only the
	// response is masked.
	matched := filter.New(req.Predicate).Apply(rec.Report.Findings)
	s.recorder.RecordFilter(r.Context(), len(rec.Report.Findings), len(matched))
	views := aggregate.Build(matched, top)

	if s.redactIDs {
		matched = redact.Findings(matched)
		views.SeverityGroups = aggregate.GroupBySeverity(matched)
		views.ServiceGroups = aggregate.GroupByService(matched)
	}
	render.JSON(w, r, queryResponse{Findings: matched, Views: views})
}
