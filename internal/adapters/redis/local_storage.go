package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	"github.com/seda/bdportal/internal/ports"
)

// Summary hash fields.
const (
	FieldUserType  = "userType"
	FieldUserRoles = "userRoles"
	FieldIsDevUser = "isDevUser"
)

// LocalStorage keeps the durable session summary as one hash per browser session.
type LocalStorage struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewLocalStorage creates a summary store. An empty prefix defaults to "summary:".
func NewLocalStorage(client redis.UniversalClient, prefix string, ttl time.Duration) *LocalStorage {
	if prefix == "" {
		prefix = "summary:"
	}
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &LocalStorage{client: client, prefix: prefix, ttl: ttl}
}

var _ ports.LocalStorage = (*LocalStorage)(nil)

// SaveSummary replaces all three keys atomically.
func (l *LocalStorage) SaveSummary(ctx context.Context, sessionID string, s domainauth.Summary) error {
	if sessionID == "" {
		return errors.New("session ID cannot be empty")
	}
	key := l.prefix + sessionID
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			FieldUserType, string(s.UserType),
			FieldUserRoles, strings.Join(s.UserRoles.Strings(), ","),
			FieldIsDevUser, strconv.FormatBool(s.IsDevUser),
		)
		pipe.Expire(ctx, key, l.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// LoadSummary returns the stored summary and whether one exists.
func (l *LocalStorage) LoadSummary(ctx context.Context, sessionID string) (domainauth.Summary, bool, error) {
	if sessionID == "" {
		return domainauth.Summary{}, false, nil
	}
	vals, err := l.client.HGetAll(ctx, l.prefix+sessionID).Result()
	if err != nil {
		return domainauth.Summary{}, false, fmt.Errorf("load summary: %w", err)
	}
	if len(vals) == 0 {
		return domainauth.Summary{}, false, nil
	}
	var roles domainauth.RoleSet
	if raw := vals[FieldUserRoles]; raw != "" {
		roles = domainauth.NewRoleSet(strings.Split(raw, ",")...)
	}
	isDev, _ := strconv.ParseBool(vals[FieldIsDevUser])
	return domainauth.Summary{
		UserType:  domainauth.CoarseType(vals[FieldUserType]),
		UserRoles: roles,
		IsDevUser: isDev,
	}, true, nil
}

// Clear removes every summary key for the session.
func (l *LocalStorage) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return l.client.Del(ctx, l.prefix+sessionID).Err()
}
