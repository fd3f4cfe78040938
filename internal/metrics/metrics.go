// Package metrics exposes placement counters to prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "placement_sessions_started_total",
		Help: "Assessment sessions started",
	})

	// outcome is completed or cancelled
	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placement_sessions_finished_total",
		Help: "Assessment sessions closed by outcome",
	}, []string{"outcome"})

	responses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placement_responses_total",
		Help: "Answers recorded by correctness",
	}, []string{"correct"})

	detectedLevels = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placement_detected_level_total",
		Help: "Final detected levels",
	}, []string{"level"})

	flaggedRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "placement_calibration_flagged_ratio",
		Help: "Share of the bank flagged for review by the last saved report",
	})

	calibrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "placement_calibration_duration_seconds",
		Help:    "Bank-wide calibration report duration",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// outcome is imported, invalid or insert_failed
	importRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placement_import_rows_total",
		Help: "Bulk import rows by outcome",
	}, []string{"outcome"})
)

func SessionStarted() { sessionsStarted.Inc() }

func SessionCompleted(level cefr.Level) {
	sessionsFinished.WithLabelValues("completed").Inc()
	detectedLevels.WithLabelValues(string(level)).Inc()
}

func SessionCancelled() { sessionsFinished.WithLabelValues("cancelled").Inc() }

func ResponseRecorded(correct bool) { responses.WithLabelValues(strconv.FormatBool(correct)).Inc() }

func CalibrationFinished(started time.Time, flagged, total int) {
	calibrationDuration.Observe(time.Since(started).Seconds())
	if total > 0 {
		flaggedRatio.Set(float64(flagged) / float64(total))
	} else {
		flaggedRatio.Set(0)
	}
}

func ImportRows(imported, invalid, insertFailed int) {
	importRows.WithLabelValues("imported").Add(float64(imported))
	importRows.WithLabelValues("invalid").Add(float64(invalid))
	importRows.WithLabelValues("insert_failed").Add(float64(insertFailed))
}
