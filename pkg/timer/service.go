package timer

import "github.com/novatechflow/clusterlog/pkg/metrics"

// pollLimit bounds the work a single Poll call may perform, per
// spec.md §4.2, so the consensus duty cycle stays responsive.
const pollLimit = 20

// Agent is the consumed contract a Service calls back into when a timer
// expires: it returns true iff the expiry has been durably logged and is
// ready to retire, per spec.md §6.
type Agent interface {
	OnTimerEvent(correlationID int64) bool
}

// SnapshotTaker receives (correlationId, deadline) pairs during Snapshot,
// in unspecified order.
type SnapshotTaker interface {
	SnapshotTimer(correlationID, deadline int64)
}

// Service is the Timer Service: a wheel plus the correlation-id/timer-id
// bijection and the agent expiry callback described in spec.md §4.2.
type Service struct {
	agent   Agent
	wheel   *Wheel
	metrics *metrics.Metrics

	timerByCorrelation map[int64]int64
	correlationByTimer map[int64]int64
}

// NewService constructs a Service driving expiries into agent. m may be
// nil to disable metrics.
func NewService(agent Agent, wheel *Wheel, m *metrics.Metrics) *Service {
	return &Service{
		agent:              agent,
		wheel:              wheel,
		metrics:            m,
		timerByCorrelation: make(map[int64]int64),
		correlationByTimer: make(map[int64]int64),
	}
}

// ScheduleTimer cancels any existing timer for correlationId and
// schedules a fresh one at deadline. Idempotent in its effect on
// correlationId: re-scheduling always lands on the new deadline.
func (s *Service) ScheduleTimer(correlationID, deadline int64) {
	s.CancelTimer(correlationID)

	timerID := s.wheel.ScheduleTimer(deadline)
	s.timerByCorrelation[correlationID] = timerID
	s.correlationByTimer[timerID] = correlationID
	if s.metrics != nil {
		s.metrics.TimerScheduled.Inc()
	}
}

// CancelTimer removes a live timer for correlationId. Returns whether a
// timer was actually cancelled.
func (s *Service) CancelTimer(correlationID int64) bool {
	timerID, ok := s.timerByCorrelation[correlationID]
	if !ok {
		return false
	}
	delete(s.timerByCorrelation, correlationID)
	s.wheel.CancelTimer(timerID)
	delete(s.correlationByTimer, timerID)
	if s.metrics != nil {
		s.metrics.TimerCancelled.Inc()
	}
	return true
}

// Poll advances the wheel to now, retrying until either the wheel's
// notion of time has caught up or the per-poll budget is exhausted, and
// returns the total number of timers expired across all wheel.Poll calls
// made during this invocation. A rejected expiry pins currentTickTime at
// its tick (per Wheel.Poll's doc comment: that entry is the first one
// re-examined on the next Poll call), so once any expiry is rejected
// this call stops and leaves the retry to the next Poll call, as it does
// when a wheel.Poll call leaves currentTickTime unmoved.
func (s *Service) Poll(now int64) int {
	expired := 0
	rejected := false
	handler := func(now int64, timerID int64) bool {
		if s.onTimerExpiry(now, timerID) {
			return true
		}
		rejected = true
		return false
	}
	for {
		before := s.wheel.CurrentTickTime()
		expired += s.wheel.Poll(now, handler, pollLimit)
		if rejected || expired >= pollLimit || s.wheel.CurrentTickTime() >= now {
			break
		}
		if s.wheel.CurrentTickTime() == before {
			break
		}
	}
	return expired
}

func (s *Service) onTimerExpiry(now int64, timerID int64) bool {
	correlationID, ok := s.correlationByTimer[timerID]
	if !ok {
		// Should never happen: every live timerId has a reverse mapping
		// installed at schedule time. Treat as consumed to avoid a wheel
		// entry with no way to ever be retired.
		return true
	}

	if s.agent.OnTimerEvent(correlationID) {
		delete(s.correlationByTimer, timerID)
		delete(s.timerByCorrelation, correlationID)
		if s.metrics != nil {
			s.metrics.TimerExpiries.WithLabelValues("accepted").Inc()
		}
		return true
	}

	if s.metrics != nil {
		s.metrics.TimerExpiries.WithLabelValues("rejected").Inc()
		s.metrics.TimerRejected.Inc()
	}
	return false
}

// CurrentTickTime returns the wheel's current notion of time.
func (s *Service) CurrentTickTime() int64 {
	return s.wheel.CurrentTickTime()
}

// SetCurrentTickTime restores wheel time after a jump, without firing any
// timers in between, used on snapshot recovery.
func (s *Service) SetCurrentTickTime(t int64) {
	s.wheel.SetCurrentTickTime(t)
}

// Snapshot emits every live (correlationId, deadline) pair to taker.
// Iteration order is unspecified.
func (s *Service) Snapshot(taker SnapshotTaker) {
	for correlationID, timerID := range s.timerByCorrelation {
		deadline, ok := s.wheel.Deadline(timerID)
		if !ok {
			continue
		}
		taker.SnapshotTimer(correlationID, deadline)
	}
}
