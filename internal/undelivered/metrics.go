package undelivered

import "github.com/prometheus/client_golang/prometheus"

var (
	undeliveredSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "undelivered_messages_saved_total",
		Help: "Messages persisted to the undelivered-message store.",
	})
	undeliveredFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "undelivered_messages_fetched_total",
		Help: "Messages returned from the undelivered-message store.",
	})
)

func init() {
	prometheus.MustRegister(undeliveredSaved, undeliveredFetched)
}
