package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"notion-proxy-go/internal/client"
	"notion-proxy-go/internal/config"
	"notion-proxy-go/internal/handler"
	"notion-proxy-go/internal/mcpserver"
	"notion-proxy-go/internal/metrics"
	"notion-proxy-go/internal/middleware"
	"notion-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("notion-proxy"),
		kong.Description("Pass-through proxy for the Notion API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewNotionClient,
			service.NewForwardService,
			handler.NewForwardHandler,
			handler.NewHealthHandler,
			handler.NewManifestHandler,
			mcpserver.New,
		),
		fx.Invoke(registerRoutes, warnConfigPermissions, startServer, startMCPServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks. WriteTimeout stays
	// disabled so slow upstream replies are not cut off; the upstream client
	// timeout bounds the call instead.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	// Calling platforms fetch the manifest and invoke the tool from arbitrary
	// origins.
	e.Use(echomw.CORS())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	return e
}

func registerRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, forward *handler.ForwardHandler, health *handler.HealthHandler, manifest *handler.ManifestHandler) {
	handler.RegisterRoutes(e, forward, health, manifest)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "tls", cfg.TLS.Enabled())
			go func() {
				var err error
				if cfg.TLS.Enabled() {
					err = e.Server.ServeTLS(ln, cfg.TLS.CertFile, cfg.TLS.KeyFile)
				} else {
					err = e.Server.Serve(ln)
				}
				if err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

func startMCPServer(lc fx.Lifecycle, srv *mcpserver.Server, cfg *config.Config, logger *slog.Logger) {
	hs := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No ReadTimeout/WriteTimeout: SSE sessions are long-lived.
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.MCP.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting MCP server", "addr", addr, "tls", cfg.TLS.Enabled())
			go func() {
				var err error
				if cfg.TLS.Enabled() {
					err = hs.ServeTLS(ln, cfg.TLS.CertFile, cfg.TLS.KeyFile)
				} else {
					err = hs.Serve(ln)
				}
				if err != nil && err != http.ErrServerClosed {
					logger.Error("MCP server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down MCP server")
			return hs.Shutdown(ctx)
		},
	})
}
