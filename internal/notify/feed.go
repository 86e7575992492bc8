package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/onexay/pushwatch/internal/types"
)

// Decoder rebuilds a push tree from a flat record.
type Decoder interface {
	Reconstruct(rec types.FlatRecord) (*types.BuildPush, error)
}

// Listener receives reconstructed pushes from the live feed.
type Listener interface {
	OnNewPush(treeName string, push *types.BuildPush)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(treeName string, push *types.BuildPush)

func (f ListenerFunc) OnNewPush(treeName string, push *types.BuildPush) { f(treeName, push) }

// Subscription is a live feed of one tree's pushes.
type Subscription struct {
	ps     *redis.PubSub
	tree   string
	logger *slog.Logger
}

// Run decodes each notification and hands the result to l until ctx is
// done or the subscription is closed. Undecodable messages are logged and
// skipped.
func (s *Subscription) Run(ctx context.Context, dec Decoder, l Listener) error {
	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(m.Payload, dec, l)
		}
	}
}

func (s *Subscription) handle(payload string, dec Decoder, l Listener) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		s.logger.Warn("dropping undecodable notification", "tree", s.tree, "error", err)
		return
	}
	if msg.Type != TypePush {
		s.logger.Debug("ignoring notification", "tree", s.tree, "type", msg.Type)
		return
	}
	info := msg.PushInfo()
	push, err := dec.Reconstruct(info.KeysAndValues)
	if err != nil {
		s.logger.Warn("dropping push that failed to reconstruct", "tree", s.tree, "push", info.PushID, "error", err)
		return
	}
	l.OnNewPush(info.TreeName, push)
}

// Close ends the subscription.
func (s *Subscription) Close() error {
	return s.ps.Close()
}
