// Package agent wires the Log Publisher and Timer Service together into
// the single-threaded duty cycle a real consensus agent would drive them
// from, without reimplementing consensus itself.
package agent

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/novatechflow/clusterlog/pkg/metrics"
	"github.com/novatechflow/clusterlog/pkg/publisher"
	"github.com/novatechflow/clusterlog/pkg/snapshotstore"
	"github.com/novatechflow/clusterlog/pkg/timer"
)

const (
	defaultTickInterval     = 20 * time.Millisecond
	defaultSnapshotInterval = 10 * time.Second
)

// SnapshotStore is the subset of snapshotstore.EtcdStore (or MemoryStore
// plus an explicit Flush) a DutyCycle needs to persist timer state
// periodically. Flush runs on its own goroutine, handed only the pairs
// already collected on the duty cycle's goroutine, so it never touches
// live timer state itself.
type SnapshotStore interface {
	timer.SnapshotTaker
	Flush(ctx context.Context) error
}

// Config controls a DutyCycle's timing. Zero values fall back to the
// package defaults.
type Config struct {
	TickInterval     time.Duration
	SnapshotInterval time.Duration
	LeadershipTermID int64
	Logger           *slog.Logger
}

// DutyCycle polls the Timer Service and drains its expiries into the Log
// Publisher on one goroutine, matching ConsensusModuleAgent's duty cycle
// in the original implementation: one thread owns both pieces of state,
// and nothing outside this loop ever calls into either directly while
// it's running.
type DutyCycle struct {
	pub     *publisher.LogPublisher
	timer   *timer.Service
	store   SnapshotStore
	metrics *metrics.Metrics
	logger  *slog.Logger

	tickInterval     time.Duration
	snapshotInterval time.Duration
	leadershipTermID int64

	lastSnapshot  time.Time
	flushInFlight atomic.Bool
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New constructs a DutyCycle around an already-bound publisher and a
// wheel the caller has sized for its deployment. store may be nil to run
// without periodic snapshotting, e.g. in tests that only exercise
// append/expire behaviour.
func New(pub *publisher.LogPublisher, wheel *timer.Wheel, store SnapshotStore, m *metrics.Metrics, cfg Config) *DutyCycle {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = defaultSnapshotInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dc := &DutyCycle{
		pub:              pub,
		store:            store,
		metrics:          m,
		logger:           logger,
		tickInterval:     cfg.TickInterval,
		snapshotInterval: cfg.SnapshotInterval,
		leadershipTermID: cfg.LeadershipTermID,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
	dc.timer = timer.NewService(dc, wheel, m)
	return dc
}

// Timers exposes the Timer Service so callers can schedule/cancel timers
// ahead of or during the run loop.
func (dc *DutyCycle) Timers() *timer.Service { return dc.timer }

// SetLeadershipTermID updates the term id stamped into TimerEvent
// records, for callers that learn it only after a leadership change.
func (dc *DutyCycle) SetLeadershipTermID(termID int64) { dc.leadershipTermID = termID }

// OnTimerEvent implements timer.Agent: it appends a TimerEvent through
// the Log Publisher and reports success only once the append commits
// within its retry budget, so the wheel retains any expiry it could not
// durably log.
func (dc *DutyCycle) OnTimerEvent(correlationID int64) bool {
	result, err := dc.pub.AppendTimer(correlationID, dc.leadershipTermID, time.Now().UnixNano())
	if err != nil {
		dc.logger.Error("duty cycle: append timer event failed", "op", "append_timer", "correlation_id", correlationID, "err", err)
		return false
	}
	return result > 0
}

// Tick runs one iteration of the loop body: poll the wheel to now, then,
// if the snapshot interval has elapsed, collect and flush timer state.
// Exported so tests can drive the loop deterministically without a real
// ticker.
func (dc *DutyCycle) Tick(now time.Time) int {
	expired := dc.timer.Poll(now.UnixNano())
	if dc.store != nil && now.Sub(dc.lastSnapshot) >= dc.snapshotInterval {
		dc.lastSnapshot = now
		dc.flushSnapshotAsync()
	}
	return expired
}

// flushSnapshotAsync collects the live (correlationId, deadline) pairs
// synchronously on the duty cycle's own goroutine, then hands them to a
// background goroutine that only ever sees that already-collected data —
// it never reaches back into the timer service. Skips starting a new
// flush while one is still in flight, since SnapshotStore has no
// internal synchronisation of its own: it assumes a single writer.
func (dc *DutyCycle) flushSnapshotAsync() {
	if !dc.flushInFlight.CompareAndSwap(false, true) {
		return
	}

	collector := snapshotstore.NewMemoryStore()
	dc.timer.Snapshot(collector)
	records := collector.Records()

	go func() {
		defer dc.flushInFlight.Store(false)
		for _, r := range records {
			dc.store.SnapshotTimer(r.CorrelationID, r.Deadline)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := dc.store.Flush(ctx); err != nil {
			if dc.metrics != nil {
				dc.metrics.SnapshotFlushErrors.Inc()
			}
			dc.logger.Error("duty cycle: snapshot flush failed", "op", "snapshot_flush", "err", err)
			return
		}
		if dc.metrics != nil {
			dc.metrics.SnapshotFlushes.Inc()
		}
	}()
}

// Run starts the duty cycle loop and blocks until ctx is cancelled or
// Stop is called. It owns the only goroutine that ever calls Timers()'s
// Poll/ScheduleTimer/CancelTimer methods for the lifetime of the run.
func (dc *DutyCycle) Run(ctx context.Context) {
	defer close(dc.doneCh)
	ticker := time.NewTicker(dc.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			dc.Tick(time.Now())
		case <-dc.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals Run to exit and waits for its goroutine to return.
// Idempotent.
func (dc *DutyCycle) Stop() {
	select {
	case <-dc.stopCh:
	default:
		close(dc.stopCh)
	}
	<-dc.doneCh
}
