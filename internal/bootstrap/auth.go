package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	bdportal "github.com/seda/bdportal"
	"github.com/seda/bdportal/config"
	"github.com/seda/bdportal/internal/adapters/devauth"
	"github.com/seda/bdportal/internal/adapters/gotrue"
	"github.com/seda/bdportal/internal/adapters/oidc"
	redisadapter "github.com/seda/bdportal/internal/adapters/redis"
	"github.com/seda/bdportal/internal/authevents"
	"github.com/seda/bdportal/internal/data"
	"github.com/seda/bdportal/internal/devbypass"
	domainauth "github.com/seda/bdportal/internal/domain/auth"
	"github.com/seda/bdportal/internal/guard"
	"github.com/seda/bdportal/internal/observability/metrics"
	"github.com/seda/bdportal/internal/ports"
	"github.com/seda/bdportal/internal/service"
	"github.com/seda/bdportal/internal/session"
)

// AuthDeps groups the infrastructure BuildAuth wires together.
type AuthDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB               // Optional: without it roles fall back to the email-derived type
	RedisClient redis.UniversalClient // Optional: without it sessions do not survive restarts
	Registerer  prometheus.Registerer // Optional: defaults to the global registerer
	Logger      *slog.Logger
}

// AuthComponents is the assembled auth core of one process.
type AuthComponents struct {
	Service  *service.AuthService
	Dev      *service.DevIdentityService // nil unless the bypass is compiled in and DEV is set
	Bus      *authevents.Bus
	Relay    *redisadapter.EventRelay // nil without Redis
	Registry *session.Registry
	Guard    *guard.Guard
	Metrics  *metrics.Auth
}

// Close tears down every live session store and detaches bus subscribers.
func (c *AuthComponents) Close() {
	c.Registry.Close()
	c.Bus.Close()
}

// BuildAuth assembles the identity backend, role resolution, session registry and route guard.
func BuildAuth(deps AuthDeps) (*AuthComponents, error) {
	if deps.Config == nil {
		return nil, errors.New("auth config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := buildIdentityBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	verifier, err := buildTokenVerifier(cfg.Auth.Backend)
	if err != nil {
		return nil, err
	}

	table, err := config.LoadRoutes(cfg.HTTP.RoutesFile, bdportal.RoutesYAML)
	if err != nil {
		return nil, err
	}

	m := metrics.New(deps.Registerer)

	var repos service.AuthRepos
	if deps.DB != nil {
		repos = service.AuthRepos{Roles: data.NewRoleRepo(deps.DB), Profiles: data.NewProfileRepo(deps.DB)}
	} else {
		logger.Warn("database not configured; roles fall back to the email-derived type")
	}

	authSvc := service.NewAuthService(service.AuthServiceOptions{
		Backend:  backend,
		Repos:    repos,
		Verifier: verifier,
		Config: service.AuthServiceConfig{
			Classifier:       domainauth.NewClassifier(cfg.Auth.OrgDomains),
			RoleFetchTimeout: cfg.Auth.RoleFetchTimeout,
			Metrics:          m,
			Logger:           logger.With("component", "auth_service"),
		},
	})

	bus := authevents.New(logger)
	sessDeps := session.Deps{Resolver: authSvc, Bus: bus}

	var relay *redisadapter.EventRelay
	if deps.RedisClient != nil {
		sessDeps.Records = redisadapter.NewSessionStore(deps.RedisClient, redisadapter.SessionStoreOptions{
			TTL:    cfg.Auth.SessionTTL,
			Sealer: CreateSessionSealer(cfg.Auth.SessionEncryptionKey, logger),
		})
		sessDeps.Local = redisadapter.NewLocalStorage(deps.RedisClient, "", cfg.Auth.SessionTTL)
		relay = redisadapter.NewEventRelay(redisadapter.EventRelayOptions{
			Client:  deps.RedisClient,
			Channel: cfg.Redis.EventChannel,
			Bus:     bus,
			Logger:  logger,
		})
	} else {
		logger.Warn("redis not configured; sessions are held in memory only")
	}

	registry := session.NewRegistry(session.RegistryOptions{
		Deps: sessDeps,
		Config: session.RegistryConfig{
			Store: session.Config{
				BootstrapTimeout: cfg.Auth.BootstrapTimeout,
				SignOutWait:      cfg.Auth.SignOutWait,
			},
			IdleTimeout:   cfg.Sessions.IdleTimeout,
			SweepInterval: cfg.Sessions.SweepInterval,
			MaxStores:     cfg.Sessions.MaxLive,
		},
		Metrics: m,
		Logger:  logger.With("component", "session_registry"),
	})

	return &AuthComponents{
		Service:  authSvc,
		Dev:      buildDevIdentities(cfg, logger),
		Bus:      bus,
		Relay:    relay,
		Registry: registry,
		Guard:    guard.New(table, m),
		Metrics:  m,
	}, nil
}

//nolint:ireturn // the backend is selected at runtime.
func buildIdentityBackend(cfg *config.AppConfig, logger *slog.Logger) (ports.IdentityBackend, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeMock:
		if !cfg.IsDev {
			logger.Warn("AUTH_MODE=mock outside development; accounts live in memory")
		}
		prov, err := devauth.NewProvider(devauth.Config{Accounts: cfg.Auth.MockAccounts()})
		if err != nil {
			return nil, fmt.Errorf("build mock identity backend: %w", err)
		}
		return prov, nil

	case config.AuthModeGoTrue:
		client, err := gotrue.NewClient(gotrue.Config{
			URL:     cfg.Auth.Backend.URL,
			AnonKey: cfg.Auth.Backend.AnonKey,
			Timeout: cfg.Auth.Backend.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build identity backend: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

// buildTokenVerifier prefers JWKS over a shared secret. Neither configured returns nil and
// resumed sessions are checked against the backend instead.
//
//nolint:ireturn // the verifier is selected at runtime.
func buildTokenVerifier(cfg config.BackendConfig) (ports.TokenVerifier, error) {
	switch {
	case cfg.JWKSURL != "":
		v, err := oidc.NewJWKSVerifier(cfg.JWKSURL, &http.Client{Timeout: cfg.Timeout}, oidc.KeySetConfig{})
		if err != nil {
			return nil, fmt.Errorf("build jwks verifier: %w", err)
		}
		return v, nil
	case cfg.JWTSecret != "":
		v, err := oidc.NewHS256Verifier(oidc.HS256Config{Secret: cfg.JWTSecret})
		if err != nil {
			return nil, fmt.Errorf("build hs256 verifier: %w", err)
		}
		return v, nil
	default:
		return nil, nil
	}
}

func buildDevIdentities(cfg *config.AppConfig, logger *slog.Logger) *service.DevIdentityService {
	if !devbypass.Compiled {
		return nil
	}
	if !cfg.IsDev {
		logger.Warn("development identity bypass compiled in but DEV is not set; bypass disabled")
		return nil
	}
	return service.NewDevIdentityService(service.DevIdentityServiceOptions{
		Secret: []byte(cfg.Auth.DevAuth.Secret),
		Suffix: cfg.Auth.DevAuth.Suffix,
	})
}
