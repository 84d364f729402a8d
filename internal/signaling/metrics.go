package signaling

import "github.com/prometheus/client_golang/prometheus"

var activeCallSessions = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "signaling_active_call_sessions",
	Help: "Call-signaling sessions currently held by this pod.",
})

func init() {
	prometheus.MustRegister(activeCallSessions)
}
