// Package metrics holds the Prometheus instruments of the server. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bix"

// Cycle outcomes
const (
	CycleOK      = "ok"
	CycleSkipped = "skipped"
	CycleFailed  = "failed"
)

// Push attempt outcomes
const (
	PushDelivered = "delivered"
	PushTransient = "transient"
	PushPermanent = "permanent"
)

// Thumbnail lookup outcomes
const (
	ThumbnailMemory   = "memory"
	ThumbnailDisk     = "disk"
	ThumbnailRendered = "rendered"
	ThumbnailError    = "error"
)

type Metrics struct {
	cycles         *prometheus.CounterVec
	changes        prometheus.Counter
	lastPublished  prometheus.Gauge
	pushAttempts   *prometheus.CounterVec
	thumbnails     *prometheus.CounterVec
	renderDuration prometheus.Histogram
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Number of poll cycles by outcome.",
		}, []string{"result"}),
		changes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "station_changes_total",
			Help:      "Number of station status changes detected.",
		}),
		lastPublished: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_published_timestamp_seconds",
			Help:      "Unix time of the last published status snapshot.",
		}),
		pushAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_attempts_total",
			Help:      "Number of push delivery attempts by outcome.",
		}, []string{"result"}),
		thumbnails: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnail_requests_total",
			Help:      "Number of thumbnail lookups by where they were served from.",
		}, []string{"result"}),
		renderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "thumbnail_render_duration_seconds",
			Help:      "Duration of the external thumbnail render pipeline.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) RecordCycle(result string, changes int) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.changes.Add(float64(changes))
}

func (m *Metrics) RecordPublished(at time.Time) {
	if m == nil {
		return
	}
	m.lastPublished.Set(float64(at.Unix()))
}

func (m *Metrics) RecordPushAttempt(result string) {
	if m == nil {
		return
	}
	m.pushAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordThumbnail(result string) {
	if m == nil {
		return
	}
	m.thumbnails.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.renderDuration.Observe(d.Seconds())
}
