package delivery

import "github.com/prometheus/client_golang/prometheus"

// deliveryResults counts routing outcomes by result, following
// middleware.Metrics' pattern of a package-local CounterVec registered at
// init rather than passed in from the caller.
var deliveryResults = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "delivery_results_total",
		Help: "Outbound message routing outcomes by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(deliveryResults)
}

func observeResult(r Result) Result {
	deliveryResults.WithLabelValues(r.String()).Inc()
	return r
}
