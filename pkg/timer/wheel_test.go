package timer

import "testing"

func TestWheelScheduleAndExpire(t *testing.T) {
	w := NewWheel(0, 10, 16)
	id := w.ScheduleTimer(100)

	var expiredIDs []int64
	got := w.Poll(90, func(now int64, timerID int64) bool {
		expiredIDs = append(expiredIDs, timerID)
		return true
	}, 20)
	if got != 0 {
		t.Fatalf("expired = %d before deadline, want 0", got)
	}

	got = w.Poll(150, func(now int64, timerID int64) bool {
		expiredIDs = append(expiredIDs, timerID)
		return true
	}, 20)
	if got != 1 || len(expiredIDs) != 1 || expiredIDs[0] != id {
		t.Fatalf("got %d expiries %v, want 1 expiry of id %d", got, expiredIDs, id)
	}
}

func TestWheelCancelPreventsExpiry(t *testing.T) {
	w := NewWheel(0, 10, 16)
	id := w.ScheduleTimer(50)
	if !w.CancelTimer(id) {
		t.Fatal("expected cancel to succeed")
	}
	if w.CancelTimer(id) {
		t.Fatal("expected second cancel to fail")
	}

	got := w.Poll(1000, func(now int64, timerID int64) bool {
		t.Fatalf("handler invoked for a cancelled timer %d", timerID)
		return true
	}, 20)
	if got != 0 {
		t.Fatalf("expired = %d, want 0", got)
	}
}

func TestWheelRejectedExpiryRetriedOnNextPoll(t *testing.T) {
	w := NewWheel(0, 10, 16)
	id := w.ScheduleTimer(50)

	accept := false
	handler := func(now int64, timerID int64) bool {
		return accept
	}

	got := w.Poll(100, handler, 20)
	if got != 0 {
		t.Fatalf("expired = %d with rejecting handler, want 0", got)
	}
	if _, ok := w.Deadline(id); !ok {
		t.Fatal("expected rejected timer to remain scheduled")
	}

	accept = true
	got = w.Poll(100, handler, 20)
	if got != 1 {
		t.Fatalf("expired = %d after accepting handler, want 1", got)
	}
	if _, ok := w.Deadline(id); ok {
		t.Fatal("expected accepted timer to be retired")
	}
}

func TestWheelPollLimitBoundsWork(t *testing.T) {
	w := NewWheel(0, 10, 4)
	for i := 0; i < 5; i++ {
		w.ScheduleTimer(20)
	}
	got := w.Poll(1000, func(now int64, timerID int64) bool { return true }, 3)
	if got != 3 {
		t.Fatalf("expired = %d, want 3 (bounded by maxExpiries)", got)
	}
}

func TestWheelSetCurrentTickTimeSkipsHistoricalTimers(t *testing.T) {
	w := NewWheel(0, 10, 16)
	w.ScheduleTimer(20)
	w.SetCurrentTickTime(1000)
	got := w.Poll(1000, func(now int64, timerID int64) bool {
		t.Fatal("handler invoked for a timer whose deadline was skipped")
		return true
	}, 20)
	if got != 0 {
		t.Fatalf("expired = %d, want 0", got)
	}
}
