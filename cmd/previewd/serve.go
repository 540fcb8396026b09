package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loykin/previewd"
)

const shutdownTimeout = 10 * time.Second

// daemon is a running previewd server: the supervisor, its HTTP API and an
// optional metrics listener.
type daemon struct {
	log     *slog.Logger
	mgr     *previewd.Manager
	api     *http.Server
	metrics *http.Server
}

func loadServeConfig(path string, f ServeFlags) (*previewd.Config, error) {
	cfg, err := previewd.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	if f.MetricsListen != "" {
		cfg.Metrics.Listen = f.MetricsListen
	}
	return cfg, nil
}

// startDaemon wires config into the manager and starts the listeners.
func startDaemon(cfg *previewd.Config, log *slog.Logger) (*daemon, error) {
	if err := previewd.RegisterMetricsDefault(); err != nil {
		log.Warn("failed to register metrics", "error", err)
	}

	mgr := previewd.New()
	mgr.SetLogger(log)
	if err := mgr.Apply(cfg); err != nil {
		return nil, fmt.Errorf("apply supervisor config: %w", err)
	}
	sinks, err := previewd.NewHistorySinks(cfg.History)
	if err != nil {
		return nil, err
	}
	mgr.SetHistorySinks(sinks...)

	d := &daemon{log: log, mgr: mgr}
	if cfg.Metrics.Listen != "" {
		if d.metrics, err = serveMetrics(cfg.Metrics.Listen, log); err != nil {
			_ = mgr.Shutdown(context.Background())
			return nil, err
		}
	}
	d.api, err = previewd.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, mgr)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("failed to create HTTP server: %w", err)
	}
	log.Info("previewd serving", "addr", d.api.Addr, "base", cfg.Server.BasePath, "history_sinks", len(sinks))
	return d, nil
}

func serveMetrics(addr string, log *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", previewd.MetricsHandler())
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()
	log.Info("metrics listening", "addr", srv.Addr)
	return srv, nil
}

// shutdown stops the API first so no new start can race the supervisor
// shutdown, then kills every dev server.
func (d *daemon) shutdown(ctx context.Context) error {
	var errs []error
	if d.api != nil {
		errs = append(errs, d.api.Shutdown(ctx))
	}
	errs = append(errs, d.mgr.Shutdown(ctx))
	if d.metrics != nil {
		errs = append(errs, d.metrics.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (d *daemon) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = d.shutdown(ctx)
}

// runServe blocks until ctx is cancelled, then shuts the daemon down.
func runServe(ctx context.Context, cfg *previewd.Config, log *slog.Logger) error {
	d, err := startDaemon(cfg, log)
	if err != nil {
		return err
	}
	<-ctx.Done()
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return d.shutdown(sctx)
}
