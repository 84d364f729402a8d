// Package notify publishes "push this to user" events to a durable bus for
// a downstream push-notification processor to consume, grounded on
// original_source's KafkaNotificationService.
package notify

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Channel discriminates how the downstream processor should push a
// notification, mirroring original_source's NotificationMessage.channel.
type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelEmail Channel = "EMAIL"
	ChannelInApp Channel = "INAPP"
)

// offlineMessageNotificationKind is the fixed notification-kind identifier
// original_source's KafkaNotificationService hardcodes as
// OFFLINE_MESSAGE_NOTIFICATION_ID.
const offlineMessageNotificationKind = 2001

// SampleNotification is the legacy in-app/OTP-style payload published when
// a chat carries a non-empty sampleMessage field (spec §4.3 step 2).
type SampleNotification struct {
	ReceiverID string
	SenderID   string
	Text       string
}

// OfflineNotification mirrors original_source's NotificationMessage DTO for
// the offline fan-out topic (spec §4.7).
type OfflineNotification struct {
	ReceiverID string // customer ID, kept as string at the API boundary
	SenderID   string
	Channel    Channel
	Map        map[string]string
}

// messageWriter is the subset of *kafka.Writer the publisher depends on,
// narrow enough that tests can substitute an in-memory fake instead of
// dialing a real broker.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher wraps two Kafka topics: a legacy sample-notification topic with
// no partition-key requirement, and an offline topic keyed by receiver so
// all of one receiver's events land on the same partition (spec §4.7).
type Publisher struct {
	sampleWriter  messageWriter
	offlineWriter messageWriter
	offlineTopic  string
	sampleTopic   string
}

// New builds a Publisher over the given brokers and topic names.
func New(brokers []string, sampleTopic, offlineTopic string) *Publisher {
	return &Publisher{
		sampleWriter: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    sampleTopic,
			Balancer: &kafka.LeastBytes{},
		},
		offlineWriter: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    offlineTopic,
			Balancer: &kafka.Hash{},
		},
		sampleTopic:  sampleTopic,
		offlineTopic: offlineTopic,
	}
}

// newForWriters builds a Publisher over pre-constructed writers, used by
// tests to substitute an in-memory fake for the real Kafka client.
func newForWriters(sample, offline messageWriter, sampleTopic, offlineTopic string) *Publisher {
	return &Publisher{sampleWriter: sample, offlineWriter: offline, sampleTopic: sampleTopic, offlineTopic: offlineTopic}
}

// Close flushes and closes both underlying writers.
func (p *Publisher) Close() error {
	err1 := p.sampleWriter.Close()
	err2 := p.offlineWriter.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

type kafkaPayload struct {
	CustomerID     int64             `json:"customerId"`
	NotificationID int64             `json:"notificationId"`
	Channel        Channel           `json:"channel"`
	Map            map[string]string `json:"map"`
}

// numericID reproduces original_source's cast-to-numeric-ID quirk (spec §9
// OQ-4): a non-numeric receiver ID silently falls back to 0, logged as a
// warning rather than silently "fixed".
func numericID(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn().Str("receiverId", raw).Msg("notify: receiver id is not numeric, falling back to 0")
		return 0
	}
	return n
}

// PublishSample publishes to the legacy in-app/OTP topic. Failures are
// logged and swallowed (spec §4.7): a notification-bus outage must not
// roll back message delivery.
func (p *Publisher) PublishSample(ctx context.Context, n SampleNotification) error {
	payload := kafkaPayload{
		CustomerID:     numericID(n.ReceiverID),
		NotificationID: offlineMessageNotificationKind,
		Channel:        ChannelInApp,
		Map: map[string]string{
			"sampleMessage": n.Text,
			"senderId":      n.SenderID,
		},
	}
	return p.publish(ctx, p.sampleWriter, p.sampleTopic, "", payload)
}

// PublishOffline publishes to the offline-notification topic, keyed by
// "undelivered:{receiverId}" so events for one receiver share a partition.
func (p *Publisher) PublishOffline(ctx context.Context, n OfflineNotification) error {
	payload := kafkaPayload{
		CustomerID:     numericID(n.ReceiverID),
		NotificationID: offlineMessageNotificationKind,
		Channel:        n.Channel,
		Map:            n.Map,
	}
	key := "undelivered:" + n.ReceiverID
	return p.publish(ctx, p.offlineWriter, p.offlineTopic, key, payload)
}

func (p *Publisher) publish(ctx context.Context, w messageWriter, topic, key string, payload kafkaPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("notify: failed to marshal payload")
		return nil
	}
	msg := kafka.Message{Value: data}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("notify: publish failed")
	}
	return nil
}
