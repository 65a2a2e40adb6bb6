package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/homelab-tools/beszel-proxy/internal/beszel"
	"github.com/homelab-tools/beszel-proxy/internal/config"
	"github.com/homelab-tools/beszel-proxy/internal/domain"
	"github.com/homelab-tools/beszel-proxy/internal/httpapi"
	"github.com/homelab-tools/beszel-proxy/internal/logger"
	"github.com/homelab-tools/beszel-proxy/internal/metrics"
	"github.com/homelab-tools/beszel-proxy/internal/ratelimiter"
	"github.com/homelab-tools/beszel-proxy/internal/server"
	"github.com/homelab-tools/beszel-proxy/internal/storage/memory"
	"github.com/homelab-tools/beszel-proxy/internal/widget"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the widget endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				logger.New(cfg.Env).Error("failed to load config", "err", err)
				return loggedError{err}
			}
			if err := serve(cfg, logger.New(cfg.Env)); err != nil {
				return loggedError{err}
			}
			return nil
		},
	}
}

// app bundles everything serve wires together.
type app struct {
	server  *server.Server
	streams *httpapi.StreamHub
}

func buildApp(cfg config.Config, logr *slog.Logger) app {
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	client := newHubClient(cfg, logr, m)

	opts := domain.Options{
		SystemsSource: client,
		CacheTTL:      cfg.SystemsCacheTTL,
		Logger:        logr,
	}
	if cfg.SystemsCacheTTL > 0 {
		opts.SnapshotCache = memory.NewSnapshotCache()
	}
	if m != nil {
		opts.ObserveCount = m.SetSystems
	}
	domainContainer := domain.New(opts)

	srv := server.New(cfg, logr, server.Options{
		Metrics: m,
		Limiter: ratelimiter.New(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute),
	})

	deps := httpapi.Deps{
		Logger:    logr,
		Domain:    domainContainer,
		Renderer:  newRenderer(cfg.Display),
		BeszelURL: cfg.BeszelURL,
	}
	if m != nil {
		deps.Streams = m
	}
	streams := httpapi.Register(srv.Mux(), deps)
	srv.RegisterOnShutdown(streams.Close)

	return app{server: srv, streams: streams}
}

func newHubClient(cfg config.Config, logr *slog.Logger, m *metrics.Metrics) *beszel.Client {
	opts := beszel.Options{
		BaseURL:  cfg.BeszelURL,
		Email:    cfg.BeszelEmail,
		Password: cfg.BeszelPassword,
		Timeout:  cfg.UpstreamTimeout,
		TokenTTL: cfg.TokenTTL,
		Logger:   logr,
	}
	if m != nil {
		opts.Observer = m
	}
	client := beszel.New(opts)
	if m != nil {
		client.Tokens().OnRefresh = m.TokenRefreshed
	}
	return client
}

func newRenderer(d config.Display) *widget.Renderer {
	return widget.NewRenderer(widget.Options{
		RedirectURL:    d.RedirectURL,
		OpenInNewTab:   d.OpenInNewTab,
		HideKernel:     d.HideKernel,
		HideUptime:     d.HideUptime,
		HideCPUInfo:    d.HideCPUInfo,
		HideIP:         d.HideIP,
		ReloadInterval: d.ReloadInterval,
	})
}

func serve(cfg config.Config, logr *slog.Logger) error {
	logr.Info("starting beszel proxy", "port", cfg.HTTPPort, "version", Version)
	logr.Info("beszel hub", "url", cfg.BeszelURL)
	logr.Info("redirect target", "url", cfg.Display.RedirectURL)
	logr.Info("widget auto-reload", "seconds", cfg.Display.ReloadInterval)

	a := buildApp(cfg, logr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			logr.Error("server error", "err", err)
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		logr.Error("server shutdown failed", "err", err)
		return err
	}
	return nil
}
