package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seda/bdportal/config"
	httpx "github.com/seda/bdportal/internal/http"
)

// HTTPServerConfig contains configuration for the HTTP server.
type HTTPServerConfig struct {
	Config *config.AppConfig
	Auth   *AuthComponents
	// Gatherer backs the metrics endpoint; nil uses the default gatherer.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewHTTPServer builds the portal server without starting it.
func NewHTTPServer(cfg HTTPServerConfig) (*http.Server, error) {
	if cfg.Config == nil || cfg.Auth == nil {
		return nil, errors.New("http server: Config and Auth are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handler, err := buildHTTPHandler(cfg, logger)
	if err != nil {
		return nil, err
	}

	addr := cfg.Config.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}, nil
}

func buildHTTPHandler(cfg HTTPServerConfig, logger *slog.Logger) (http.Handler, error) {
	appCfg := cfg.Config

	pages, err := httpx.NewRenderer(httpx.RendererOptions{
		DevLogin: cfg.Auth.Dev != nil,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build page renderer: %w", err)
	}

	svc := httpx.RouterServices{
		Guard:  cfg.Auth.Guard,
		Stores: cfg.Auth.Registry,
		Pages:  pages,
		Cookies: httpx.CookieConfig{
			Domain: appCfg.HTTP.CookieDomain,
			Secure: appCfg.HTTP.SecureCookies,
			MaxAge: appCfg.Auth.SessionTTL,
		},
		CSRF: httpx.CSRFConfig{
			CookieDomain: appCfg.HTTP.CookieDomain,
			Secure:       appCfg.HTTP.SecureCookies,
		},
		ReadyWait: appCfg.HTTP.GuardReadyWait,
		Logger:    logger,
	}
	if cfg.Auth.Dev != nil {
		svc.Dev = cfg.Auth.Dev
	}
	if appCfg.Observability.Metrics.Enabled {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		svc.Metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		svc.MetricsPath = appCfg.Observability.Metrics.Path
	}

	return httpx.NewRouter(svc), nil
}

// ServeHTTP runs srv until ctx is cancelled, then shuts it down within timeout.
// Returns nil on graceful shutdown.
func ServeHTTP(ctx context.Context, srv *http.Server, timeout time.Duration, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return serve(ctx, srv, ln, timeout, logger)
}

func serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
