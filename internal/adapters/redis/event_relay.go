package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	"github.com/seda/bdportal/internal/ports"
)

// DefaultEventChannel is the pub/sub channel used when none is configured.
const DefaultEventChannel = "portal:auth-events"

// forwardBuffer bounds events waiting to be forwarded while Redis is slow.
const forwardBuffer = 256

// EventRelay bridges the in-process auth event bus across instances.
// Only token-free events travel: SIGNED_OUT and USER_UPDATED.
type EventRelay struct {
	client  redis.UniversalClient
	channel string
	origin  string
	bus     ports.AuthEventBus
	logger  *slog.Logger
}

// EventRelayOptions configures an EventRelay.
type EventRelayOptions struct {
	Client  redis.UniversalClient
	Channel string
	// Origin identifies this instance; generated when empty.
	Origin string
	// Bus receives remote events. Optional for publish-only relays such as the admin CLI.
	Bus    ports.AuthEventBus
	Logger *slog.Logger
}

// NewEventRelay constructs an EventRelay.
func NewEventRelay(opts EventRelayOptions) *EventRelay {
	if opts.Client == nil {
		panic("redis.EventRelay: Client is required")
	}
	if opts.Channel == "" {
		opts.Channel = DefaultEventChannel
	}
	if opts.Origin == "" {
		opts.Origin = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &EventRelay{
		client:  opts.Client,
		channel: opts.Channel,
		origin:  opts.Origin,
		bus:     opts.Bus,
		logger:  opts.Logger.With("component", "event_relay"),
	}
}

// Origin returns the instance id stamped on forwarded events.
func (r *EventRelay) Origin() string { return r.origin }

// Relayable reports whether ev may leave the process.
func Relayable(ev domainauth.Event) bool {
	if ev.CarriesSession() || ev.Origin != "" {
		return false
	}
	if ev.SessionID == "" && ev.UserID == "" {
		return false
	}
	return ev.Kind == domainauth.EventSignedOut || ev.Kind == domainauth.EventUserUpdated
}

// Announce publishes ev to every instance.
func (r *EventRelay) Announce(ctx context.Context, ev domainauth.Event) error {
	if !Relayable(ev) {
		return fmt.Errorf("event %s cannot be relayed", ev.Kind)
	}
	ev.Origin = r.origin
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run forwards local relayable events and delivers remote ones to the bus until ctx is cancelled.
// Returns nil on graceful shutdown.
func (r *EventRelay) Run(ctx context.Context) error {
	if r.bus == nil {
		return errors.New("event relay: bus is required to run")
	}

	sub := r.client.Subscribe(ctx, r.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			r.logger.WarnContext(ctx, "close subscription failed", "error", err)
		}
	}()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	outbound := make(chan domainauth.Event, forwardBuffer)
	unsubscribe := r.bus.Subscribe(func(ev domainauth.Event) {
		if !Relayable(ev) {
			return
		}
		select {
		case outbound <- ev:
		default:
			r.logger.Warn("event relay backlog full, dropping event", "kind", ev.Kind)
		}
	})
	defer unsubscribe()

	r.logger.InfoContext(ctx, "auth event relay started", "channel", r.channel, "origin", r.origin)
	inbound := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "auth event relay stopping", "reason", ctx.Err())
			return nil
		case ev := <-outbound:
			if err := r.Announce(ctx, ev); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "forward auth event failed", "kind", ev.Kind, "error", err)
			}
		case msg, ok := <-inbound:
			if !ok {
				return errors.New("event relay: subscription closed")
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

func (r *EventRelay) deliver(ctx context.Context, payload string) {
	var ev domainauth.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.logger.WarnContext(ctx, "discarding malformed auth event", "error", err)
		return
	}
	if ev.Origin == r.origin || ev.Origin == "" {
		return
	}
	r.bus.Publish(ctx, ev)
}
