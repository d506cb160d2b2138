// Package metrics holds the process-wide Prometheus collectors and the
// scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studentswap_ws_connections_active",
		Help: "Currently registered realtime connections.",
	})

	WSEventsIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studentswap_ws_events_in_total",
		Help: "Inbound realtime events by type.",
	}, []string{"type"})

	WSPushesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studentswap_ws_pushes_delivered_total",
		Help: "Events enqueued to a connected client.",
	})

	WSPushesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studentswap_ws_pushes_dropped_total",
		Help: "Events dropped because the client's send queue was full.",
	})

	MigrationGroupsMigrated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studentswap_migration_groups_migrated_total",
		Help: "Legacy conversation units migrated successfully.",
	})

	MigrationGroupsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studentswap_migration_groups_failed_total",
		Help: "Legacy conversation units skipped after a failure.",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studentswap_messages_sent_total",
		Help: "Messages persisted via API or realtime gateway.",
	})
)

// Handler returns the http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
