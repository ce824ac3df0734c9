package bootstrap

import (
	"log/slog"

	"github.com/seda/bdportal/internal/cryptoutil"
)

// CreateSessionSealer builds the sealer for persisted session records.
// An empty or unusable key falls back to plain storage with a warning.
//
//nolint:ireturn // Returning interface is intentional for sealer abstraction
func CreateSessionSealer(key string, logger *slog.Logger) cryptoutil.Sealer {
	if key == "" {
		if logger != nil {
			logger.Warn("AUTH_SESSION_ENCRYPTION_KEY is empty, session records are stored unencrypted")
		}
		return cryptoutil.Plain{}
	}

	keyBytes, err := cryptoutil.KeyFromString(key)
	if err == nil {
		var sealer *cryptoutil.AESGCM
		if sealer, err = cryptoutil.NewAESGCM(keyBytes); err == nil {
			return sealer
		}
	}
	if logger != nil {
		logger.Warn("failed to create session sealer, storing records unencrypted", "error", err)
	}
	return cryptoutil.Plain{}
}
