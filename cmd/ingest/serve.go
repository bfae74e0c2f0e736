package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soochol/ingest/internal/api"
	"github.com/soochol/ingest/internal/engine"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	janitor, err := engine.NewJanitor(cfg.Ingest.SweepSchedule, cfg.Ingest.Retention, a.engine, a.imports)
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	srv := api.NewServer(a.engine, a.imports, a.leads)
	srv.SetMetrics(a.metrics)
	srv.SetAuth(api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Required))
	srv.SetCORSOrigins(cfg.Server.CORSOrigins)
	srv.SetMaxUploadSize(cfg.Server.MaxUploadSize)
	srv.SetWaitTimeout(cfg.Ingest.BatchTimeout)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting ingest server", "addr", addr, "sources", len(a.engine.GetSources()))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown", "err", err)
		}
		a.drain(shutdownTimeout)
	}
	return nil
}
