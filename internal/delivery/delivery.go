// Package delivery implements the routing decision engine that chooses
// between local-socket send, cross-pod relay, and offline-store-and-notify
// for every outbound message, grounded on original_source's
// MessageService.handleIncomingMessage / deliverMessage / deliverRemoteMessage.
package delivery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/odin/gateway/internal/notify"
	"github.com/odin/gateway/internal/profile"
	"github.com/odin/gateway/internal/signaling"
	"github.com/odin/gateway/internal/undelivered"
)

// Result is the outward contract of a routing decision (spec §4.3).
type Result int

const (
	Delivered Result = iota
	Queued
	Dropped
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	default:
		return "dropped"
	}
}

// Envelope is the outbound message shape of spec §3.
type Envelope struct {
	SenderID      string            `json:"senderId"`
	SenderMobile  string            `json:"senderMobile,omitempty"`
	SenderName    string            `json:"senderName,omitempty"`
	ReceiverID    string            `json:"receiverId"`
	MessageID     string            `json:"messageId"`
	ActualMessage string            `json:"actualMessage,omitempty"`
	SampleMessage string            `json:"sampleMessage,omitempty"`
	Files         map[string]string `json:"files,omitempty"`
	MessageType   string            `json:"messageType,omitempty"`
	Timestamp     int64             `json:"timestamp"`
	Delivered     bool              `json:"delivered"`
	DeliveryTS    int64             `json:"deliveryTimestamp,omitempty"`
	IsRead        bool              `json:"isRead"`
}

// LocalSender delivers a serialized payload to a session this pod owns
// (C2's contract, narrowed to what the router needs).
type LocalSender interface {
	SendLocal(userID string, payload []byte) (ok bool)
}

// PresenceDirectory is C1's contract, narrowed to what the router needs.
type PresenceDirectory interface {
	Lookup(ctx context.Context, userID string) (pod string, ok bool, err error)
}

// RelayPublisher is C3's contract, narrowed to what the router needs.
type RelayPublisher interface {
	Publish(ctx context.Context, fromUserID, targetUserID, message string) error
}

// ProfileLookup is C4's contract, narrowed to what the router needs.
type ProfileLookup interface {
	Get(ctx context.Context, digest, rawID string) (*profile.Profile, bool)
}

// UndeliveredStore is C5's contract, narrowed to what the router needs.
type UndeliveredStore interface {
	Save(ctx context.Context, receiverID string, env undelivered.Envelope) error
}

// NotificationPublisher is C6's contract, narrowed to what the router needs.
type NotificationPublisher interface {
	PublishSample(ctx context.Context, n notify.SampleNotification) error
	PublishOffline(ctx context.Context, n notify.OfflineNotification) error
}

// Flags are the independent enable flags gating the two halves of the
// offline branch, per spec §4.3's "Each of (a) and (b) is gated by an
// independent enable flag so either can be disabled without changing the
// other."
type Flags struct {
	OfflineMessagingEnabled bool
	StorageEnabled          bool
	KafkaNotifyEnabled      bool
	NotificationChannel     notify.Channel
}

// Router composes C1-C6 behind small interfaces so that it, and the
// signaling engine (C7), depend only on the Sink abstraction rather than on
// each other (spec §9's outbound-sink redesign flag).
type Router struct {
	local    LocalSender
	presence PresenceDirectory
	relay    RelayPublisher
	profiles ProfileLookup
	store    UndeliveredStore
	notifier NotificationPublisher
	flags    Flags
}

// New builds a Router over its collaborators.
func New(local LocalSender, presence PresenceDirectory, relay RelayPublisher, profiles ProfileLookup,
	store UndeliveredStore, notifier NotificationPublisher, flags Flags) *Router {
	return &Router{
		local: local, presence: presence, relay: relay, profiles: profiles,
		store: store, notifier: notifier, flags: flags,
	}
}

// Route implements the WebSocket-path algorithm of spec §4.3 steps 1-4.
func (r *Router) Route(ctx context.Context, env Envelope) (result Result, err error) {
	defer func() { observeResult(result) }()

	// Step 1: enrich with the sender's profile; drop with a warning on
	// failure (spec §9 OQ-2: preserved as specified, not "future revision"
	// partial-enrichment behavior).
	digest := profile.Digest(env.SenderID)
	p, ok := r.profiles.Get(ctx, digest, env.SenderID)
	if !ok {
		log.Warn().Str("senderId", env.SenderID).Msg("delivery: sender profile unavailable, dropping message")
		return Dropped, nil
	}
	env.SenderMobile = p.Mobile
	env.SenderName = displayName(p)

	// Step 2: legacy sample/in-app notification, independent of the rest.
	if env.SampleMessage != "" {
		if err := r.notifier.PublishSample(ctx, notify.SampleNotification{
			ReceiverID: env.ReceiverID, SenderID: env.SenderID, Text: env.SampleMessage,
		}); err != nil {
			log.Warn().Err(err).Msg("delivery: sample notification publish failed")
		}
	}

	// Step 3: nothing to deliver.
	if env.ActualMessage == "" && len(env.Files) == 0 {
		return Dropped, nil
	}

	return r.dispatch(ctx, env, true)
}

// Send forwards an already-enriched envelope local-or-relay only: no
// profile enrichment, no offline branch. The signaling engine does not call
// Send; its Sink method is SendSignal below.
func (r *Router) Send(ctx context.Context, env Envelope) (Result, error) {
	result, err := r.dispatch(ctx, env, false)
	observeResult(result)
	return result, err
}

// SendSignal implements signaling.Sink: it forwards a call-signaling frame
// local-or-relay only, with no profile enrichment and no offline branch,
// since a peer that is fully offline mid-call has nothing to buffer for.
func (r *Router) SendSignal(ctx context.Context, out signaling.OutboundSignal) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	if r.local.SendLocal(out.To, payload) {
		return nil
	}
	_, present, err := r.presence.Lookup(ctx, out.To)
	if err != nil {
		log.Error().Err(err).Str("to", out.To).Msg("delivery: presence lookup failed for signaling frame")
	}
	if !present {
		log.Warn().Str("to", out.To).Str("signal", out.Signal).Msg("delivery: signaling peer offline, dropping frame")
		return nil
	}
	return r.relay.Publish(ctx, out.From, out.To, string(payload))
}

// DeliverHTTP implements the HTTP-originated variant of spec §4.3: step 1
// is skipped (the caller supplies a pre-formed body) and the offline branch
// returns Dropped instead of storing (spec §9 OQ-3's documented asymmetry).
func (r *Router) DeliverHTTP(ctx context.Context, from, target, body string) (result Result, err error) {
	defer func() { observeResult(result) }()

	env := Envelope{SenderID: from, ReceiverID: target, ActualMessage: body, Timestamp: time.Now().UnixMilli()}
	_, ok, err := r.presence.Lookup(ctx, target)
	if err != nil {
		log.Error().Err(err).Str("receiverId", target).Msg("delivery: presence lookup failed")
	}
	if !ok {
		return Dropped, nil
	}
	return r.sendLocalOrRelay(ctx, env)
}

func (r *Router) dispatch(ctx context.Context, env Envelope, offlineAllowed bool) (Result, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return Dropped, err
	}

	if r.local.SendLocal(env.ReceiverID, payload) {
		return Delivered, nil
	}

	_, present, err := r.presence.Lookup(ctx, env.ReceiverID)
	if err != nil {
		log.Error().Err(err).Str("receiverId", env.ReceiverID).Msg("delivery: presence lookup failed, treating as offline")
	}
	if present {
		if err := r.relay.Publish(ctx, env.SenderID, env.ReceiverID, string(payload)); err != nil {
			log.Error().Err(err).Msg("delivery: relay publish failed")
			return Dropped, nil
		}
		return Queued, nil
	}

	if !offlineAllowed {
		return Dropped, nil
	}
	return r.offline(ctx, env, payload)
}

// sendLocalOrRelay is used only by DeliverHTTP, whose caller (the REST
// handler) needs to tell "receiver has no presence entry" (Dropped, nil)
// apart from "receiver is present but relay publish failed" (Dropped, err)
// to answer with 404 vs 409 respectively (spec.md §6).
func (r *Router) sendLocalOrRelay(ctx context.Context, env Envelope) (Result, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return Dropped, err
	}
	if r.local.SendLocal(env.ReceiverID, payload) {
		return Delivered, nil
	}
	if err := r.relay.Publish(ctx, env.SenderID, env.ReceiverID, string(payload)); err != nil {
		log.Error().Err(err).Msg("delivery: relay publish failed")
		return Dropped, err
	}
	return Queued, nil
}

// offline implements the two independently gated halves of spec §4.3 step
// 4's offline branch. Storage failing does not prevent the notification
// attempt, and vice versa (spec §4.7/§7: no non-critical side effect rolls
// back a critical one, and neither half here is critical to the other).
func (r *Router) offline(ctx context.Context, env Envelope, payload []byte) (Result, error) {
	if !r.flags.OfflineMessagingEnabled {
		return Dropped, nil
	}

	if r.flags.StorageEnabled {
		if err := r.store.Save(ctx, env.ReceiverID, undelivered.Envelope{
			MessageID: env.MessageID, SenderID: env.SenderID, SenderMobile: env.SenderMobile,
			SenderName: env.SenderName, ReceiverID: env.ReceiverID, ActualMessage: env.ActualMessage,
			Files: env.Files, MessageType: env.MessageType, Timestamp: env.Timestamp,
		}); err != nil {
			log.Error().Err(err).Str("receiverId", env.ReceiverID).Msg("delivery: undelivered store save failed")
		}
	}

	if r.flags.KafkaNotifyEnabled && env.SampleMessage != "" {
		if err := r.notifier.PublishOffline(ctx, notify.OfflineNotification{
			ReceiverID: env.ReceiverID,
			SenderID:   env.SenderID,
			Channel:    r.flags.NotificationChannel,
			Map: map[string]string{
				"sampleMessage": env.SampleMessage,
				"messageId":     env.MessageID,
				"senderId":      env.SenderID,
			},
		}); err != nil {
			log.Warn().Err(err).Msg("delivery: offline notification publish failed")
		}
	}

	return Queued, nil
}

func displayName(p *profile.Profile) string {
	if p.FirstName == "" && p.LastName == "" {
		return ""
	}
	if p.LastName == "" {
		return p.FirstName
	}
	if p.FirstName == "" {
		return p.LastName
	}
	return p.FirstName + " " + p.LastName
}
