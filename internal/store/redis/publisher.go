package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Conxian/conxian-nexus/internal/domain/model"
)

// Key and channel layout consumed by downstream services (gateway,
// SDK): safety flag and drift as plain keys, transitions and root
// updates announced on the events channel.
const (
	KeySafetyMode = "nexus:safety_mode"
	KeyDrift      = "nexus:drift"
	KeyStateRoot  = "nexus:state_root"

	EventsChannel = "nexus:events"

	MsgSafetyModeTriggered = "safety_mode_triggered"
	MsgSafetyModeCleared   = "safety_mode_cleared"
	MsgStateRootUpdated    = "state_root_updated"
)

// Publisher broadcasts node status over Redis so external consumers do
// not need to poll the HTTP API.
type Publisher struct {
	client *redis.Client
}

// NewPublisher connects to the given Redis URL and verifies the
// connection with a ping.
func NewPublisher(url string) (*Publisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Publisher{client: client}, nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// PublishSafetyStatus writes the safety flag and drift atomically and
// announces the transition on the events channel.
func (p *Publisher) PublishSafetyStatus(ctx context.Context, status model.SafetyStatus, drift int64) error {
	active := status == model.SafetyStatusSafety
	msg := MsgSafetyModeCleared
	if active {
		msg = MsgSafetyModeTriggered
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, KeySafetyMode, strconv.FormatBool(active), 0)
	pipe.Set(ctx, KeyDrift, strconv.FormatInt(drift, 10), 0)
	pipe.Publish(ctx, EventsChannel, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish safety status: %w", err)
	}
	return nil
}

// PublishStateRoot writes the current accumulator root and announces
// the update.
func (p *Publisher) PublishStateRoot(ctx context.Context, root string) error {
	pipe := p.client.TxPipeline()
	pipe.Set(ctx, KeyStateRoot, root, 0)
	pipe.Publish(ctx, EventsChannel, MsgStateRootUpdated)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish state root: %w", err)
	}
	return nil
}
