// Package notify publishes push notifications over Redis pub/sub and turns
// them back into live push-info updates for subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/onexay/pushwatch/internal/types"
)

const (
	TypePush     = "push"
	TypePushInfo = "pushinfo"

	defaultChannelPrefix = "pushwatch"
)

// Message is the notification sent after a push is written.
type Message struct {
	ID                    string           `json:"id"`
	Type                  string           `json:"type"`
	TreeName              string           `json:"treeName"`
	PushID                int64            `json:"pushId"`
	KeysAndValues         types.FlatRecord `json:"keysAndValues"`
	ScrapeTimestampMillis int64            `json:"scrapeTimestampMillis"`
	RevForTimestamp       int64            `json:"revForTimestamp"`
}

// PushInfo is the live-feed form of a push: the same flat record shape that
// is stored, so it decodes through the same reconstructor.
type PushInfo struct {
	Type          string           `json:"type"`
	TreeName      string           `json:"treeName"`
	PushID        int64            `json:"pushId"`
	KeysAndValues types.FlatRecord `json:"keysAndValues"`
}

// PushInfo converts a push notification into its live-feed form.
func (m Message) PushInfo() PushInfo {
	return PushInfo{Type: TypePushInfo, TreeName: m.TreeName, PushID: m.PushID, KeysAndValues: m.KeysAndValues}
}

// Publisher delivers push notifications.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// RedisBus publishes and subscribes to per-tree Redis channels.
type RedisBus struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisBus wraps a Redis client. An empty prefix uses "pushwatch".
func NewRedisBus(client *redis.Client, prefix string, logger *slog.Logger) *RedisBus {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{client: client, prefix: prefix, logger: logger}
}

// Channel returns the channel a tree's notifications are published on.
func (b *RedisBus) Channel(treeName string) string {
	return fmt.Sprintf("%s:push:%s", b.prefix, treeName)
}

// Publish sends msg on its tree's channel, assigning an id when missing.
func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	if msg.Type == "" {
		msg.Type = TypePush
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.Channel(msg.TreeName), payload).Err(); err != nil {
		return fmt.Errorf("publish push %d of %s: %w", msg.PushID, msg.TreeName, err)
	}
	return nil
}

// Subscribe listens on a tree's channel. It returns once the subscription
// is confirmed, so no message published afterwards is missed.
func (b *RedisBus) Subscribe(ctx context.Context, treeName string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, b.Channel(treeName))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", treeName, err)
	}
	return &Subscription{ps: ps, tree: treeName, logger: b.logger}, nil
}
