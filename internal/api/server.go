// Package api serves normalization, framework lookup and report queries
// over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/vahti/internal/emitter"
	"github.com/yairfalse/vahti/internal/framework"
	"github.com/yairfalse/vahti/internal/normalizer"
	"github.com/yairfalse/vahti/internal/store"
	"github.com/yairfalse/vahti/pkg/finding"
)

// maxBodyBytes bounds uploaded scan output.
const maxBodyBytes = 64 << 20

// ReportStore persists reports.
type ReportStore interface {
	Put(report finding.Report) (store.Record, error)
	Get(id string) (store.Record, error)
	List(limit int) ([]store.Record, error)
	Delete(id string) error
}

// Recorder receives operational measurements.
type Recorder interface {
	RecordNormalize(ctx context.Context, tool, provider string, count int, d time.Duration)
	RecordFilter(ctx context.Context, in, out int)
}

type nopRecorder struct{}

func (nopRecorder) RecordNormalize(context.Context, string, string, int, time.Duration) {}
func (nopRecorder) RecordFilter(context.Context, int, int)                             {}

// IngestLog records the outcome of report uploads.
type IngestLog interface {
	LogSpanStart(ctx context.Context, spanName string, attrs ...attribute.KeyValue)
	LogSpanEnd(ctx context.Context, spanName string, err error)
	LogReportIngested(ctx context.Context, id, tool, provider string, findings int)
	LogReportRejected(ctx context.Context, err error)
}

type zerologIngest struct {
	logger zerolog.Logger
}

func (z zerologIngest) LogSpanStart(ctx context.Context, spanName string, _ ...attribute.KeyValue) {
	z.logger.Debug().Ctx(ctx).Str("span_name", spanName).Msg("span started")
}

func (z zerologIngest) LogSpanEnd(ctx context.Context, spanName string, err error) {
	if err != nil {
		z.logger.Error().Ctx(ctx).Err(err).Str("span_name", spanName).Msg("span failed")
		return
	}
	z.logger.Debug().Ctx(ctx).Str("span_name", spanName).Msg("span completed")
}

func (z zerologIngest) LogReportIngested(ctx context.Context, id, tool, provider string, findings int) {
	z.logger.Info().Ctx(ctx).
		Str("report", id).
		Str("tool", tool).
		Str("provider", provider).
		Int("findings", findings).
		Msg("report ingested")
}

func (z zerologIngest) LogReportRejected(ctx context.Context, err error) {
	z.logger.Warn().Ctx(ctx).Err(err).Msg("report rejected")
}

// Config holds the server's collaborators.
type Config struct {
	Mapper          *framework.Mapper
	Catalog         *framework.Catalog
	Normalizer      *normalizer.Normalizer
	Store           ReportStore
	Emitter         emitter.Emitter
	Recorder        Recorder
	IngestLog       IngestLog
	Logger          zerolog.Logger
	DefaultProvider finding.Provider
	TopControls     int
	RedactIDs       bool
}

// Server is the HTTP API.
type Server struct {
	mapper          *framework.Mapper
	catalog         *framework.Catalog
	normalizer      *normalizer.Normalizer
	store           ReportStore
	emitter         emitter.Emitter
	recorder        Recorder
	ingestLog       IngestLog
	logger          zerolog.Logger
	defaultProvider finding.Provider
	topControls     int
	redactIDs       bool
}

// New creates a Server. Mapper, Normalizer and Store are required. A nil
// Catalog serves the built-in mappings.
func New(cfg Config) *Server {
	s := &Server{
		mapper:          cfg.Mapper,
		catalog:         cfg.Catalog,
		normalizer:      cfg.Normalizer,
		store:           cfg.Store,
		emitter:         cfg.Emitter,
		recorder:        cfg.Recorder,
		ingestLog:       cfg.IngestLog,
		logger:          cfg.Logger,
		defaultProvider: cfg.DefaultProvider,
		topControls:     cfg.TopControls,
		redactIDs:       cfg.RedactIDs,
	}
	if s.catalog == nil {
		s.catalog = framework.DefaultCatalog()
	}
	if s.emitter == nil {
		s.emitter = emitter.NewMultiEmitter()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.ingestLog == nil {
		s.ingestLog = zerologIngest{logger: s.logger}
	}
	return s
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/frameworks/{provider}", func(r chi.Router) {
			r.Get("/", s.handleListFrameworks)
			r.Get("/controls", s.handleListControls)
			r.Post("/resolve", s.handleResolveFrameworks)
		})
		r.Route("/reports", func(r chi.Router) {
			r.Post("/", s.handleIngest)
			r.Get("/", s.handleListReports)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetReport)
				r.Delete("/", s.handleDeleteReport)
				r.Post("/query", s.handleQuery)
			})
		})
	})
	return r
}
