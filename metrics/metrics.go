// Package metrics exposes Prometheus instrumentation for the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the server's collectors.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	ActiveTransactions prometheus.Gauge
	RequestsTotal      *prometheus.CounterVec
	BytesSent          prometheus.Counter
	BytesReceived      prometheus.Counter

	registry *prometheus.Registry
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lanshare_active_sessions",
			Help: "Currently open control-channel sessions.",
		}),
		ActiveTransactions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lanshare_active_transactions",
			Help: "Currently running GET/PUT transactions.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanshare_requests_total",
			Help: "Control-channel requests, by api and result.",
		}, []string{"api", "result"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanshare_transfer_bytes_sent_total",
			Help: "File bytes streamed to clients over side channels.",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanshare_transfer_bytes_received_total",
			Help: "File bytes received from clients over side channels.",
		}),
		registry: reg,
	}
}

// Serve exposes /metrics on addr. Runs until the listener fails; meant for
// a goroutine.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"addr":     addr,
	}).Info("Metrics endpoint listening")

	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Serve",
			"addr":     addr,
			"error":    err.Error(),
		}).Error("Metrics endpoint failed")
	}
}
