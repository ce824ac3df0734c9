// Package redis provides Redis-based adapters for the portal: resumable session
// records, the durable session summary and the cross-instance auth event relay.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seda/bdportal/internal/cryptoutil"
	"github.com/seda/bdportal/internal/ports"
)

// DefaultRecordTTL bounds how long an untouched session record survives.
const DefaultRecordTTL = 7 * 24 * time.Hour

// SessionStore is a Redis-based session record store for production use.
// Each Save refreshes the record TTL.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	sealer cryptoutil.Sealer
}

// SessionStoreOptions configures a SessionStore.
type SessionStoreOptions struct {
	Prefix string        // defaults to "session:"
	TTL    time.Duration // defaults to DefaultRecordTTL
	// Sealer encrypts records at rest, bound to their id. Nil stores plain JSON.
	Sealer cryptoutil.Sealer
}

// NewSessionStore creates a new Redis-based session record store.
func NewSessionStore(client redis.UniversalClient, opts SessionStoreOptions) *SessionStore {
	if opts.Prefix == "" {
		opts.Prefix = "session:"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultRecordTTL
	}
	return &SessionStore{client: client, prefix: opts.Prefix, ttl: opts.TTL, sealer: opts.Sealer}
}

var _ ports.SessionRecordStore = (*SessionStore)(nil)

func (s *SessionStore) Save(ctx context.Context, rec ports.SessionRecord) error {
	if rec.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	if rec.Tokens.RefreshToken == "" {
		return errors.New("session record has no refresh token")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	var value any = data
	if s.sealer != nil {
		sealed, sealErr := s.sealer.Seal(data, rec.ID)
		if sealErr != nil {
			return fmt.Errorf("seal session record: %w", sealErr)
		}
		value = sealed
	}
	return s.client.Set(ctx, s.prefix+rec.ID, value, s.ttl).Err()
}

func (s *SessionStore) Get(ctx context.Context, id string) (ports.SessionRecord, error) {
	if id == "" {
		return ports.SessionRecord{}, ports.ErrSessionRecordNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ports.SessionRecord{}, ports.ErrSessionRecordNotFound
		}
		return ports.SessionRecord{}, fmt.Errorf("redis get: %w", err)
	}
	if s.sealer != nil {
		opened, openErr := s.sealer.Open(string(data), id)
		if openErr != nil {
			// Rotated key or tampered value: the record is unusable.
			return ports.SessionRecord{}, s.discard(ctx, id)
		}
		data = opened
	}

	var rec ports.SessionRecord
	if unmarshalErr := json.Unmarshal(data, &rec); unmarshalErr != nil {
		return ports.SessionRecord{}, fmt.Errorf("unmarshal session record: %w", unmarshalErr)
	}
	// A record is keyed by its own id; anything else is corrupt.
	if rec.ID != id {
		return ports.SessionRecord{}, s.discard(ctx, id)
	}
	return rec, nil
}

// discard deletes an unusable record and reports it as missing.
func (s *SessionStore) discard(ctx context.Context, id string) error {
	if err := s.Delete(ctx, id); err != nil {
		return fmt.Errorf("cleanup corrupt session record: %w", err)
	}
	return ports.ErrSessionRecordNotFound
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil // Nothing to delete
	}
	return s.client.Del(ctx, s.prefix+id).Err()
}
