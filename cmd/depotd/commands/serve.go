package commands

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/depotfs/depot/internal/logger"
	"github.com/depotfs/depot/internal/telemetry"
	"github.com/depotfs/depot/pkg/config"
	"github.com/depotfs/depot/pkg/depot"
	"github.com/depotfs/depot/pkg/depot/serve"

	// Register the storage drivers selectable through the "backend" option.
	_ "github.com/depotfs/depot/pkg/depot/badger"
	_ "github.com/depotfs/depot/pkg/depot/gcs"
	_ "github.com/depotfs/depot/pkg/depot/gridfs"
	_ "github.com/depotfs/depot/pkg/depot/local"
	_ "github.com/depotfs/depot/pkg/depot/memory"
	_ "github.com/depotfs/depot/pkg/depot/s3"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve files from the configured stores over HTTP",
	Long: `Start the depotd HTTP server.

Files are served read-only at <mountpoint>/<store>/<file_id> with cache
validation headers. A /healthz endpoint always responds; a Prometheus
/metrics endpoint is exposed when metrics are enabled in the configuration.

Examples:
  # Serve with the default config location
  depotd serve

  # Serve with a custom config file
  depotd serve --config /etc/depot/config.yaml

  # Override config through the environment
  DEPOT_LOGGING_LEVEL=DEBUG depotd serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "depotd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "depotd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	reg, err := config.BuildRegistry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build store registry: %w", err)
	}

	router, err := buildRouter(cfg, reg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	serverDone := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.Server.ListenAddr,
			"mountpoint", cfg.Server.Mountpoint,
			"stores", reg.Names())
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		serverDone <- err
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received, draining connections")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		if err := <-serverDone; err != nil {
			return err
		}
		logger.Info("server stopped gracefully")
		return nil

	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// buildRouter assembles the HTTP stack: request plumbing middleware, the
// health and metrics endpoints, and the depot file serving middleware.
func buildRouter(cfg *config.Config, reg *depot.Registry) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	r.Use(tracingMiddleware)

	serveMW, err := serve.Middleware(reg, serve.Config{
		Mountpoint:  cfg.Server.Mountpoint,
		CacheMaxAge: cfg.Server.CacheMaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid serving configuration: %w", err)
	}
	r.Use(serveMW)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler())
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	return r, nil
}

// tracingMiddleware opens a span per request. With telemetry disabled the
// tracer is a no-op and the span costs nothing.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.StartServeSpan(r.Context(), r.Method, r.URL.Path,
			telemetry.ClientAddr(r.RemoteAddr))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
