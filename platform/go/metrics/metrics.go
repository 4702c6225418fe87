// Package metrics exposes the prometheus instruments shared across domains.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MovesTotal counts stage-transition attempts by outcome
	// (ok, invalid_transition, conflict, validation, error).
	MovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trazar",
		Name:      "lot_moves_total",
		Help:      "Stage-transition attempts by outcome.",
	}, []string{"outcome"})

	// SnapshotsGeneratedTotal counts materialized QR certificates.
	SnapshotsGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trazar",
		Name:      "qr_snapshots_generated_total",
		Help:      "QR traceability certificates generated.",
	})

	// TraceScansTotal counts public trace resolutions by outcome
	// (ok, not_found, revoked).
	TraceScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trazar",
		Name:      "trace_scans_total",
		Help:      "Public QR trace resolutions by outcome.",
	}, []string{"outcome"})
)

// Handler returns the HTTP handler serving the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
