// Package undelivered stores messages that could not be delivered
// immediately, one Redis hash per receiver with a bounded retention
// window, grounded on original_source's OfflineMessageService.
package undelivered

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrInvalidRecord is returned by Save when receiverID or the envelope's
// MessageID is empty (spec §4.6: "require non-empty receiver and a
// populated messageId").
var ErrInvalidRecord = errors.New("undelivered: receiverID and messageID are required")

const keyPrefix = "undelivered:"

// Envelope is the persisted shape of one undelivered message, matching the
// outbound message envelope fields of spec §3.
type Envelope struct {
	MessageID       string            `json:"messageId"`
	SenderID        string            `json:"senderId"`
	SenderMobile    string            `json:"senderMobile,omitempty"`
	SenderName      string            `json:"senderName,omitempty"`
	ReceiverID      string            `json:"receiverId"`
	ActualMessage   string            `json:"actualMessage,omitempty"`
	Files           map[string]string `json:"files,omitempty"`
	MessageType     string            `json:"messageType,omitempty"`
	Timestamp       int64             `json:"timestamp"`
	Delivered       bool              `json:"delivered"`
	DeliveryTS      int64             `json:"deliveryTimestamp,omitempty"`
	IsRead          bool              `json:"isRead"`
	ReadTimestamp   int64             `json:"readTimestamp,omitempty"`
}

// Key returns the Redis hash key for receiverID.
func Key(receiverID string) string {
	return keyPrefix + receiverID
}

// Store wraps a Redis client for the undelivered-message hash described in
// spec §4.6.
type Store struct {
	rdb    *redis.Client
	retain time.Duration
}

// New builds a Store whose stored hashes expire after retain (spec's
// "offline.message.ttl.days", default 30 days).
func New(rdb *redis.Client, retain time.Duration) *Store {
	return &Store{rdb: rdb, retain: retain}
}

// Save persists env under receiverID's hash keyed by env.MessageID, then
// (re)applies the retention TTL to the whole hash — the TTL is applied, not
// extended, on every call, so activity refreshes the window (spec §4.6).
func (s *Store) Save(ctx context.Context, receiverID string, env Envelope) error {
	if receiverID == "" || env.MessageID == "" {
		return ErrInvalidRecord
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	key := Key(receiverID)
	if err := s.rdb.HSet(ctx, key, env.MessageID, data).Err(); err != nil {
		return err
	}
	if err := s.rdb.Expire(ctx, key, s.retain).Err(); err != nil {
		return err
	}
	undeliveredSaved.Inc()
	return nil
}

// Fetch returns every stored envelope for receiverID, sorted by Timestamp
// ascending since a Redis hash does not guarantee insertion order across
// all deployments (spec §4.6's fallback clause, applied unconditionally).
// A single malformed record is logged and skipped rather than failing the
// whole fetch.
func (s *Store) Fetch(ctx context.Context, receiverID string) ([]Envelope, error) {
	fields, err := s.rdb.HGetAll(ctx, Key(receiverID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Envelope, 0, len(fields))
	for messageID, raw := range fields {
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			log.Warn().Err(err).Str("receiverId", receiverID).Str("messageId", messageID).
				Msg("undelivered: skipping malformed record")
			continue
		}
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	undeliveredFetched.Add(float64(len(out)))
	return out, nil
}

// DeleteAll removes every stored message for receiverID.
func (s *Store) DeleteAll(ctx context.Context, receiverID string) error {
	return s.rdb.Del(ctx, Key(receiverID)).Err()
}

// DeleteOne removes a single message field from receiverID's hash.
func (s *Store) DeleteOne(ctx context.Context, receiverID, messageID string) error {
	return s.rdb.HDel(ctx, Key(receiverID), messageID).Err()
}

// Has reports whether receiverID has any stored messages.
func (s *Store) Has(ctx context.Context, receiverID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, Key(receiverID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
