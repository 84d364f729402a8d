package ws

import "github.com/prometheus/client_golang/prometheus"

// connectedSessions gauges the number of sockets this pod currently owns
// (session.Table.Len), following middleware.Metrics' pattern of one
// package-local collector set registered at init.
var connectedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "ws_connected_sessions",
	Help: "Number of WebSocket sessions currently held open by this pod.",
})

func init() {
	prometheus.MustRegister(connectedSessions)
}

// observeSessionCount refreshes the connected-sessions gauge from the Hub's
// session table. Called after every Register/RemoveByConn so the gauge never
// drifts from the table it mirrors.
func (h *Hub) observeSessionCount() {
	connectedSessions.Set(float64(h.sessions.Len()))
}
