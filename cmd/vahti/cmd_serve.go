package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/prometheus"

	"github.com/yairfalse/vahti/internal/api"
	"github.com/yairfalse/vahti/internal/config"
	"github.com/yairfalse/vahti/internal/emitter"
	"github.com/yairfalse/vahti/internal/normalizer"
	"github.com/yairfalse/vahti/internal/store"
	"github.com/yairfalse/vahti/internal/telemetry"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the Vahti HTTP API.

Features:
- Upload raw scanner output, stored and summarized per report
- Filter stored reports and recompute views
- Resolve framework labels for scan setup
- Prometheus metrics on the metrics address
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  vahti serve                       # Run with defaults
  vahti serve --config vahti.toml   # Run with a config file`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}
	tp, err := telemetry.NewProvider(ctx, cfg.OTEL, telemetry.WithReader(promExporter))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("telemetry shutdown")
		}
	}()

	logger, err := telemetry.NewLogger(os.Stderr, cfg.OTEL.ServiceName, cfg.Log.Level)
	if err != nil {
		return err
	}

	mapper, catalog, err := loadFrameworks(cfg.Frameworks)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	promEmitter, err := emitter.NewPrometheusEmitter(tp.Meter())
	if err != nil {
		return fmt.Errorf("create emitter: %w", err)
	}
	emit := emitter.NewMultiEmitter(promEmitter)
	defer func() { _ = emit.Close() }()

	srv := api.New(api.Config{
		Mapper:  mapper,
		Catalog: catalog,
		Normalizer: normalizer.New(
			normalizer.WithCatalog(catalog),
			normalizer.WithObserver(tp),
			normalizer.WithLogger(logger.Logger),
			normalizer.WithDefaultTool(cfg.Normalizer.DefaultTool),
		),
		Store:           st,
		Emitter:         emit,
		Recorder:        tp,
		IngestLog:       logger,
		Logger:          logger.Logger,
		DefaultProvider: cfg.DefaultProvider(),
		TopControls:     cfg.Report.TopControls,
		RedactIDs:       cfg.Report.RedactIDs,
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("metrics_addr", cfg.Server.MetricsAddr).
		Str("storage", cfg.Storage.Path).
		Msg("vahti starting")

	var g run.Group
	addServer(&g, "api", cfg.Server, srv.Routes())
	addServer(&g, "metrics", config.ServerConfig{
		Addr:            cfg.Server.MetricsAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, metricsMux)
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		logger.Info().Str("reason", err.Error()).Msg("shutting down")
		return nil
	}
	return err
}

// addServer runs an HTTP server as a group actor that shuts down
// gracefully when the group is interrupted.
func addServer(g *run.Group, name string, sc config.ServerConfig, h http.Handler) {
	server := &http.Server{
		Addr:              sc.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Add(func() error {
		ln, err := net.Listen("tcp", sc.Addr)
		if err != nil {
			return fmt.Errorf("%s listen: %w", name, err)
		}
		log.Info().Str("server", name).Str("addr", ln.Addr().String()).Msg("listening")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Str("server", name).Msg("shutdown")
		}
	})
}
