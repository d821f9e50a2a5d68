// Package metrics holds the Prometheus collectors shared by the tracking
// engine. They register on the default registry and are served by the
// daemon's /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VisitsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readtrail_visits_recorded_total",
		Help: "Total number of page visit samples accepted by the tracker",
	})

	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "readtrail_flushes_total",
		Help: "Record flushes (finalize + upsert) by result",
	}, []string{"result"})

	NotesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readtrail_notes_skipped_total",
		Help: "History notes skipped while loading because they were malformed or foreign",
	})

	GuardRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "readtrail_guard_repairs_total",
		Help: "Protected objects repaired by the guard, by triggering event",
	}, []string{"event"})

	IntegrityWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readtrail_integrity_warnings_total",
		Help: "Direct modifications of history notes detected by the guard",
	})

	TrackerWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "readtrail_tracker_workers",
		Help: "Per-document tracker workers currently running",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "readtrail_active_sessions",
		Help: "Reading sessions currently open in the sampler",
	})

	LegacyItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "readtrail_legacy_items_total",
		Help: "Legacy export items processed by outcome",
	}, []string{"outcome"})
)
