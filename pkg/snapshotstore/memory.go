// Package snapshotstore implements SnapshotTaker for the Timer Service's
// on-demand snapshot operation: an in-memory store for tests and
// recovery-path unit tests, and an etcd-backed store for production.
package snapshotstore

import "github.com/novatechflow/clusterlog/pkg/timer"

// TimerRecord is one (correlationId, deadline) pair captured during a
// timer.Service.Snapshot call.
type TimerRecord struct {
	CorrelationID int64
	Deadline      int64
}

// MemoryStore implements timer.SnapshotTaker by buffering every pair
// handed to it, in whatever order Snapshot iterates the live map.
type MemoryStore struct {
	records []TimerRecord
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SnapshotTimer implements timer.SnapshotTaker.
func (m *MemoryStore) SnapshotTimer(correlationID, deadline int64) {
	m.records = append(m.records, TimerRecord{CorrelationID: correlationID, Deadline: deadline})
}

// Records returns a copy of every pair captured since the last Reset.
func (m *MemoryStore) Records() []TimerRecord {
	return append([]TimerRecord(nil), m.records...)
}

// Reset discards all captured records, for reuse across multiple
// snapshot/restore cycles in a single test.
func (m *MemoryStore) Reset() {
	m.records = nil
}

// Restore re-schedules every record into svc, the inverse of Snapshot.
// The recovered state depends only on the set of pairs, matching
// spec.md §4.2's statement that snapshot iteration order is unspecified.
func Restore(svc *timer.Service, records []TimerRecord) {
	for _, r := range records {
		svc.ScheduleTimer(r.CorrelationID, r.Deadline)
	}
}
