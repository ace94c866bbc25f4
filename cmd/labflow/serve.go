package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/labflow/config"
	"github.com/vnmchuo/labflow/internal/api"
	"github.com/vnmchuo/labflow/internal/pipeline"
	"github.com/vnmchuo/labflow/internal/telemetry"
	"github.com/vnmchuo/labflow/pkg/ratelimit"
)

var serveFlags struct {
	port string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API.

When a configuration file is given (--config or LABFLOW_CONFIG) it is watched
and every change is applied to the running orchestrator.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveFlags.port, "port", "p", "", "override PORT")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	if serveFlags.port != "" {
		cfg.Port = serveFlags.port
	}

	// Init telemetry
	shutdownTracer, err := telemetry.InitTracer("labflow", cfg.OTELExporterType, cfg.OTELExporterEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracer: %w", err)
	}
	defer shutdownTracer()

	// Init rate limiter (needs Redis)
	var limit func(http.Handler) http.Handler
	if a.rdb != nil && cfg.RateLimitRPM > 0 {
		limit = ratelimit.NewLimiter(a.rdb, cfg.RateLimitRPM).Middleware
	}

	// Hot reload of the configuration file
	if cfg.ConfigFile != "" {
		go func() {
			if err := config.Watch(ctx, cfg.ConfigFile, a.manager.UpdateConfig); err != nil {
				a.logger.Error("config watcher stopped", "path", cfg.ConfigFile, "error", err)
			}
		}()
	}

	tracer := otel.Tracer(telemetry.TracerName)
	handler := api.NewHandler(a.manager,
		pipeline.NewGenerator(a.manager, a.pipelineOptions()...),
		pipeline.NewAnalyzer(a.manager, a.pipelineOptions()...),
		a.store, tracer, a.logger,
	)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, a.metrics.Handler(), limit),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("LabFlow starting", "port", cfg.Port, "primary", cfg.Service.Primary.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	a.logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}
