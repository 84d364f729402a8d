package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	relayPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_published_total",
		Help: "Messages published to the cross-pod relay channel.",
	})
	relayConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_consumed_total",
		Help: "Well-formed messages received from the cross-pod relay channel.",
	})
	relayDecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_decode_errors_total",
		Help: "Malformed payloads dropped by the relay subscriber.",
	})
)

func init() {
	prometheus.MustRegister(relayPublished, relayConsumed, relayDecodeErrors)
}
