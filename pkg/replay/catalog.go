// Package replay implements the Recording Reader: a replay engine that
// walks a segmented on-disk recording of the log using memory-mapped
// segments, honouring fragment alignment and frame metadata, and tails a
// still-growing recording without racing the writer.
package replay

import "fmt"

// NullPosition signals "use the recording's startPosition" to
// NewRecordingReader, matching AeronArchive.NULL_POSITION.
const NullPosition int64 = -1

// NullLength signals "replay to the end of the recording" to
// NewRecordingReader, matching AeronArchive.NULL_LENGTH.
const NullLength int64 = -1

// RecordingSummary describes a recording's fixed geometry, the consumed
// contract spec.md §6 names "Recording catalog".
type RecordingSummary struct {
	RecordingID       int64
	StartPosition     int64
	StopPosition      int64
	InitialTermID     int32
	StreamID          int32
	TermBufferLength  int32
	SegmentFileLength int32
}

// Catalog resolves a completed recording's durable stop position. A live
// recording's stop position instead comes from its PositionCounter.
type Catalog interface {
	StopPosition(recordingID int64) (int64, error)
}

// PositionCounter is the live, concurrently-updated durable position of a
// recording still being written, consumed per spec.md §6. A reader opened
// against a completed recording is given a nil PositionCounter.
type PositionCounter interface {
	Get() int64
	IsClosed() bool
}

// MemoryCatalog is an in-memory Catalog for tests and single-process
// deployments, keyed by recordingId.
type MemoryCatalog struct {
	stopPositions map[int64]int64
}

// NewMemoryCatalog constructs an empty MemoryCatalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{stopPositions: make(map[int64]int64)}
}

// SetStopPosition records the durable stop position of a completed
// recording, for later lookup by StopPosition.
func (c *MemoryCatalog) SetStopPosition(recordingID, stopPosition int64) {
	c.stopPositions[recordingID] = stopPosition
}

// StopPosition implements Catalog.
func (c *MemoryCatalog) StopPosition(recordingID int64) (int64, error) {
	pos, ok := c.stopPositions[recordingID]
	if !ok {
		return 0, fmt.Errorf("replay: unknown recording %d", recordingID)
	}
	return pos, nil
}

// LivePositionCounter is a PositionCounter backed by two accessor
// functions, suitable for single-process wiring where the writer and
// reader share an address space. pkg/archive.Recorder implements
// PositionCounter itself and does not need this adapter.
type LivePositionCounter struct {
	get    func() int64
	closed func() bool
}

// NewLivePositionCounter adapts two accessor functions into a
// PositionCounter.
func NewLivePositionCounter(get func() int64, closed func() bool) *LivePositionCounter {
	return &LivePositionCounter{get: get, closed: closed}
}

// Get implements PositionCounter.
func (c *LivePositionCounter) Get() int64 { return c.get() }

// IsClosed implements PositionCounter.
func (c *LivePositionCounter) IsClosed() bool { return c.closed() }
