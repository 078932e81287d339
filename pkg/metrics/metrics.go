// Package metrics provides the prometheus instrumentation for the log
// publisher, timer service, duty-cycle snapshot flushes, recording reader
// and archive tier. The publisher, timer service and duty cycle record
// into it; the replay and archive collectors are registered, but no code
// in this module increments them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "clusterlog"

// Metrics groups the counters and histograms the components record
// into. Unlike the teacher's package-var style, this is built by New so
// cmd/clusternode can register it against its own prometheus.Registry
// instead of the global default, which also lets tests construct a fresh
// one per case without tripping "duplicate metrics collector" panics.
type Metrics struct {
	PublisherAttempts *prometheus.CounterVec
	PublisherRetries  *prometheus.CounterVec
	PublisherFatals   *prometheus.CounterVec

	TimerExpiries  *prometheus.CounterVec
	TimerRejected  prometheus.Counter
	TimerScheduled prometheus.Counter
	TimerCancelled prometheus.Counter

	ReplayFragmentsDelivered prometheus.Counter
	ReplayPollDuration       prometheus.Histogram

	ArchiveUploadDuration *prometheus.HistogramVec
	ArchiveUploadErrors   *prometheus.CounterVec

	SnapshotFlushes     prometheus.Counter
	SnapshotFlushErrors prometheus.Counter
}

// New constructs a Metrics and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PublisherAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publisher_append_attempts_total",
			Help:      "Total append attempts by event kind.",
		}, []string{"kind"}),
		PublisherRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publisher_append_retries_total",
			Help:      "Total back-pressure/admin-action retries by event kind.",
		}, []string{"kind"}),
		PublisherFatals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publisher_append_fatal_total",
			Help:      "Total fatal transport errors by event kind.",
		}, []string{"kind"}),
		TimerExpiries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_expiries_total",
			Help:      "Total timer expiries handled, by outcome (accepted/rejected).",
		}, []string{"outcome"}),
		TimerRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_expiry_rejected_total",
			Help:      "Total timer expiries the agent rejected and that remain pending.",
		}),
		TimerScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_scheduled_total",
			Help:      "Total timers scheduled.",
		}),
		TimerCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_cancelled_total",
			Help:      "Total timers cancelled.",
		}),
		ReplayFragmentsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_fragments_delivered_total",
			Help:      "Total fragments delivered by the recording reader.",
		}),
		ReplayPollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replay_poll_duration_seconds",
			Help:      "Duration of a single recording reader poll call.",
			Buckets:   prometheus.DefBuckets,
		}),
		ArchiveUploadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_upload_duration_seconds",
			Help:      "Duration of archive tier upload operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		ArchiveUploadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_upload_errors_total",
			Help:      "Total archive tier upload errors by operation.",
		}, []string{"operation"}),
		SnapshotFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_flushes_total",
			Help:      "Total timer snapshot flushes to durable storage.",
		}),
		SnapshotFlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_flush_errors_total",
			Help:      "Total timer snapshot flushes that failed.",
		}),
	}

	reg.MustRegister(
		m.PublisherAttempts,
		m.PublisherRetries,
		m.PublisherFatals,
		m.TimerExpiries,
		m.TimerRejected,
		m.TimerScheduled,
		m.TimerCancelled,
		m.ReplayFragmentsDelivered,
		m.ReplayPollDuration,
		m.ArchiveUploadDuration,
		m.ArchiveUploadErrors,
		m.SnapshotFlushes,
		m.SnapshotFlushErrors,
	)
	return m
}
