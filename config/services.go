package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeEventRelay bridges auth events between instances over Redis pub/sub.
	ServiceModeEventRelay ServiceMode = "event-relay"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeEventRelay}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeEventRelay:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, event-relay)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SessionConfig controls the in-memory session store registry.
type SessionConfig struct {
	// IdleTimeout evicts stores that have not been touched for this long.
	IdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	// SweepInterval is how often idle stores are evicted.
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`
	// MaxLive caps live stores per process; the least recently used is evicted first.
	MaxLive int `env:"SESSION_MAX_LIVE" envDefault:"10000"`
}

// Sanitize applies guardrails to session registry configuration values.
func (s *SessionConfig) Sanitize() {
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = 30 * time.Minute
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = time.Minute
	}
	if s.MaxLive <= 0 {
		s.MaxLive = 10000
	}
}
