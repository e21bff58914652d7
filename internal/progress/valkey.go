package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

// Channel is the pub/sub channel worker processes publish events on.
const Channel = "sheetflow:progress"

// ValkeyPublisher publishes events for other processes to relay.
type ValkeyPublisher struct {
	client valkey.Client
}

func NewValkeyPublisher(client valkey.Client) *ValkeyPublisher {
	return &ValkeyPublisher{client: client}
}

func (p *ValkeyPublisher) Publish(ctx context.Context, uploadID uuid.UUID, typ EventType, data any) error {
	ev, err := NewEvent(uploadID, typ, data)
	if err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Do(ctx, p.client.B().Publish().Channel(Channel).Message(string(b)).Build()).Error(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Relay subscribes to Channel and forwards every event into a Hub.
type Relay struct {
	client valkey.Client
	hub    *Hub
	logger *slog.Logger
}

func NewRelay(client valkey.Client, hub *Hub, logger *slog.Logger) *Relay {
	return &Relay{client: client, hub: hub, logger: logger}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (r *Relay) Run(ctx context.Context) error {
	err := r.client.Receive(ctx, r.client.B().Subscribe().Channel(Channel).Build(), func(msg valkey.PubSubMessage) {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Message), &ev); err != nil {
			r.logger.Warn("discarding malformed progress event", slog.String("error", err.Error()))
			return
		}
		r.hub.Broadcast(ev)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
