package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/seda/bdportal/config"
	redisadapter "github.com/seda/bdportal/internal/adapters/redis"
	"github.com/seda/bdportal/internal/bootstrap"
	domainauth "github.com/seda/bdportal/internal/domain/auth"
)

var errRedisNotConfigured = errors.New("redis not configured")

// withDatabase opens the configured database for the duration of fn.
func withDatabase(cmdCtx *commandContext, fn func(db *sql.DB) error) error {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cmdCtx.Config.Postgres, Logger: cmdCtx.Logger})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	runErr := fn(db)
	if closeErr := db.Close(); closeErr != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close db: %w", closeErr))
	}
	return runErr
}

// announce publishes ev on the auth event channel so every portal instance applies it.
func announce(ctx context.Context, cmdCtx *commandContext, ev domainauth.Event) error {
	client, err := maybeConnectRedis(cmdCtx.Logger, &cmdCtx.Config.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	relay := redisadapter.NewEventRelay(redisadapter.EventRelayOptions{
		Client:  client,
		Channel: cmdCtx.Config.Redis.EventChannel,
		Origin:  "portal-admin",
		Logger:  cmdCtx.Logger,
	})
	return relay.Announce(ctx, ev)
}

// maybeConnectRedis returns a connected client when configuration is present.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func maybeConnectRedis(logger *slog.Logger, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	if !cfg.Configured() {
		return nil, errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: *cfg, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}
