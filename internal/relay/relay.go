// Package relay carries cross-pod delivery payloads over a single shared
// Redis pub/sub channel, grounded on original_source's MessageRelayService
// and RedisMessageSubscriber.
package relay

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Envelope is the wire shape published on the relay channel: a thin routing
// wrapper, not the full outbound message envelope (that is JSON-encoded
// again inside Message by the caller).
type Envelope struct {
	FromUserID   string `json:"fromUserId"`
	TargetUserID string `json:"targetUserId"`
	Message      string `json:"message"`
}

// Handler processes one relayed payload. Implementations must not panic:
// the subscriber loop treats a panic as a programming error it cannot
// recover from gracefully, so handlers should catch their own failures.
type Handler func(fromUserID, targetUserID, message string)

// Bus wraps a Redis client for a single named pub/sub channel shared by
// every pod in the deployment.
type Bus struct {
	rdb     *redis.Client
	channel string
}

// New builds a Bus over channel (default "websocket:messages" per spec §6).
func New(rdb *redis.Client, channel string) *Bus {
	return &Bus{rdb: rdb, channel: channel}
}

// Publish marshals and publishes one routing envelope to the shared
// channel so that whichever pod holds the target's socket can deliver it.
func (b *Bus) Publish(ctx context.Context, fromUserID, targetUserID, message string) error {
	payload, err := json.Marshal(Envelope{
		FromUserID:   fromUserID,
		TargetUserID: targetUserID,
		Message:      message,
	})
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return err
	}
	relayPublished.Inc()
	return nil
}

// Subscribe runs a dedicated subscriber loop (spec §5) until ctx is
// canceled, invoking handler for each well-formed payload. Malformed
// payloads are dropped via onDecodeErr rather than stopping the loop.
func (b *Bus) Subscribe(ctx context.Context, handler Handler, onDecodeErr func(error)) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				relayDecodeErrors.Inc()
				if onDecodeErr != nil {
					onDecodeErr(err)
				}
				continue
			}
			relayConsumed.Inc()
			handler(env.FromUserID, env.TargetUserID, env.Message)
		}
	}
}
