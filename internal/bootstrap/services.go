package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/seda/bdportal/config"
)

// ServiceOrchestrationConfig contains everything RunServices needs.
type ServiceOrchestrationConfig struct {
	Config *config.AppConfig
	Auth   *AuthComponents
	// HTTP overrides the server wiring; zero fields are taken from Config and Auth.
	HTTP   HTTPServerConfig
	Logger *slog.Logger
}

// backgroundService describes one long-running component. start blocks until ctx is cancelled
// and returns nil on graceful shutdown.
type backgroundService struct {
	mode  config.ServiceMode // empty: always runs
	name  string
	start func(ctx context.Context) error
}

func buildBackgroundServices(cfg *ServiceOrchestrationConfig, logger *slog.Logger) ([]backgroundService, error) {
	auth := cfg.Auth
	services := []backgroundService{{
		name:  "session sweeper",
		start: auth.Registry.Run,
	}}

	httpCfg := cfg.HTTP
	if httpCfg.Config == nil {
		httpCfg.Config = cfg.Config
	}
	if httpCfg.Auth == nil {
		httpCfg.Auth = auth
	}
	if httpCfg.Logger == nil {
		httpCfg.Logger = logger
	}
	srv, err := NewHTTPServer(httpCfg)
	if err != nil {
		return nil, err
	}
	services = append(services, backgroundService{
		mode: config.ServiceModeHTTP,
		name: "http server",
		start: func(ctx context.Context) error {
			return ServeHTTP(ctx, srv, cfg.Config.HTTP.ShutdownTimeout, logger)
		},
	})

	services = append(services, backgroundService{
		mode: config.ServiceModeEventRelay,
		name: "auth event relay",
		start: func(ctx context.Context) error {
			if auth.Relay == nil {
				return errors.New("event-relay service requires redis")
			}
			return auth.Relay.Run(ctx)
		},
	})
	return services, nil
}

// RunServicesWithShutdown starts all enabled services and blocks until SIGINT/SIGTERM or until
// one of them fails. Session stores are torn down after every service has stopped.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunServices(ctx, cfg)
}

// RunServices runs the enabled services until ctx is cancelled or one fails.
func RunServices(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil || cfg.Auth == nil {
		return errors.New("service orchestration config is incomplete")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	services, err := buildBackgroundServices(cfg, logger)
	if err != nil {
		return err
	}
	defer cfg.Auth.Close()

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range services {
		if svc.mode != "" && !enabled[svc.mode] {
			continue
		}
		g.Go(func() error {
			if err := svc.start(gctx); err != nil {
				logger.Error("service failed", "service", svc.name, "error", err)
				return fmt.Errorf("%s: %w", svc.name, err)
			}
			logger.Info(svc.name + " stopped")
			return nil
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("services stopped", "reason", context.Cause(ctx))
	}
	return err
}
