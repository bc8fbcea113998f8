// Package metrics exposes Prometheus collectors for the battleship server.
// Collectors register on the default registry; Handler serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battleship_connections_accepted_total",
		Help: "Total number of accepted TCP connections",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battleship_sessions_active",
		Help: "Number of currently connected sessions",
	})

	GamesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battleship_games_active",
		Help: "Number of game workers currently running",
	})

	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battleship_messages_received_total",
		Help: "Total number of client messages received, by message type",
	}, []string{"type"})

	Attacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battleship_attacks_total",
		Help: "Total number of resolved attacks, by result",
	}, []string{"result"})

	GamesFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battleship_games_finished_total",
		Help: "Total number of games that reached the finished phase",
	})
)

// Handler returns an HTTP handler exposing the collected metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
