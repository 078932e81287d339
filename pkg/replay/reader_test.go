package replay

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/novatechflow/clusterlog/pkg/wire"
)

const testTermLength = int32(1024)
const testSegmentLength = int32(2048)
const testFrameDataLength = int32(288) // frame length 320 with a 32-byte header
const testFrameLength = wire.HeaderLength + testFrameDataLength

// writeFrame appends one frame (header + dataLength bytes, payload byte
// repeated for easy identification) at buf[offset:], returning the
// aligned length written.
func writeFrame(buf []byte, offset int32, frameType wire.FrameType, termID, streamID int32, dataLength int32, fill byte) int32 {
	frameLength := wire.HeaderLength + dataLength
	hdr := wire.FrameHeader{
		FrameLength: frameLength,
		FrameType:   frameType,
		TermOffset:  offset,
		StreamID:    streamID,
		TermID:      termID,
	}
	hdr.Encode(buf[offset:])
	for i := int32(0); i < dataLength; i++ {
		buf[offset+wire.HeaderLength+i] = fill
	}
	return wire.Align(frameLength)
}

// buildTestSegment lays out one segment (two terms of testTermLength)
// containing three 320-byte frames per term, the remainder of each term
// padded out with a single padding frame, per spec.md §8 scenario 6's
// layout (three 320-byte frames per 1024-byte term).
func buildTestSegment(t *testing.T, dir string, recordingID int64, streamID, initialTermID int32) {
	t.Helper()
	buf := make([]byte, testSegmentLength)

	for term := int32(0); term < 2; term++ {
		base := term * testTermLength
		offset := int32(0)
		for f := int32(0); f < 3; f++ {
			offset += writeFrame(buf, base+offset, wire.FrameTypeData, initialTermID+term, streamID, testFrameDataLength, byte('A'+f))
		}
		if offset < testTermLength {
			writeFrame(buf, base+offset, wire.FrameTypePadding, initialTermID+term, streamID, testTermLength-offset-wire.HeaderLength, 0)
		}
	}

	name := SegmentFileName(recordingID, 0)
	if err := os.WriteFile(filepath.Join(dir, name), buf, 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}
}

type fakeCounter struct {
	pos    int64
	closed bool
}

func (c *fakeCounter) Get() int64     { return c.pos }
func (c *fakeCounter) IsClosed() bool { return c.closed }

func TestRecordingReaderTailsLiveRecording(t *testing.T) {
	dir := t.TempDir()
	const recordingID = int64(1)
	const streamID = int32(7)
	const initialTermID = int32(0)
	buildTestSegment(t, dir, recordingID, streamID, initialTermID)

	summary := RecordingSummary{
		RecordingID:       recordingID,
		StartPosition:     0,
		InitialTermID:     initialTermID,
		StreamID:          streamID,
		TermBufferLength:  testTermLength,
		SegmentFileLength: testSegmentLength,
	}

	counter := &fakeCounter{pos: 0}
	catalog := NewMemoryCatalog()

	reader, err := NewRecordingReader(dir, catalog, summary, NullPosition, NullLength, counter)
	if err != nil {
		t.Fatalf("NewRecordingReader: %v", err)
	}
	defer reader.Close()

	var delivered []wire.FrameType

	got, err := reader.Poll(func(payload []byte, frameType wire.FrameType, flags uint8, reserved int64) {
		delivered = append(delivered, frameType)
	}, 20)
	if err != nil {
		t.Fatalf("Poll (before any counter advance): %v", err)
	}
	if got != 0 {
		t.Fatalf("delivered %d fragments before counter advanced, want 0", got)
	}

	counter.pos = 2 * testFrameLength // two frames of term 0 durable
	got, err = reader.Poll(func(payload []byte, frameType wire.FrameType, flags uint8, reserved int64) {
		delivered = append(delivered, frameType)
	}, 20)
	if err != nil {
		t.Fatalf("Poll (after 2 frames): %v", err)
	}
	if got != 2 {
		t.Fatalf("delivered %d fragments, want 2", got)
	}
	if reader.ReplayPosition() != int64(2*testFrameLength) {
		t.Fatalf("replayPosition = %d, want %d", reader.ReplayPosition(), 2*testFrameLength)
	}
	if reader.IsDone() {
		t.Fatal("reader reports done before the recording has stopped")
	}

	// Recording stops after term 0's third frame plus padding, and two
	// frames into term 1.
	stopPosition := int64(testTermLength) + int64(2*testFrameLength)
	counter.pos = stopPosition
	counter.closed = true
	catalog.SetStopPosition(recordingID, stopPosition)

	total := got
	for !reader.IsDone() {
		n, err := reader.Poll(func(payload []byte, frameType wire.FrameType, flags uint8, reserved int64) {
			delivered = append(delivered, frameType)
		}, 20)
		if err != nil {
			t.Fatalf("Poll (draining): %v", err)
		}
		if n == 0 {
			t.Fatal("poll made no progress but reader is not done")
		}
		total += n
	}

	if reader.ReplayPosition() != stopPosition {
		t.Fatalf("final replayPosition = %d, want %d", reader.ReplayPosition(), stopPosition)
	}
	// term0: 3 data + 1 padding; term1: 2 data frames consumed before stop.
	if total != 6 {
		t.Fatalf("total fragments delivered = %d, want 6", total)
	}
}

func TestRecordingReaderRejectsNegativeLength(t *testing.T) {
	dir := t.TempDir()
	const recordingID = int64(2)
	buildTestSegment(t, dir, recordingID, 7, 0)

	summary := RecordingSummary{
		RecordingID:       recordingID,
		StartPosition:     0,
		StopPosition:      100,
		InitialTermID:     0,
		StreamID:          7,
		TermBufferLength:  testTermLength,
		SegmentFileLength: testSegmentLength,
	}

	_, err := NewRecordingReader(dir, nil, summary, 200, NullLength, nil)
	if err == nil {
		t.Fatal("expected an error for fromPosition beyond a completed recording's stop position")
	}
	var argErr *InvalidArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("err = %v, want *InvalidArgumentError", err)
	}
}

func TestRecordingReaderMissingSegmentFileIsIOError(t *testing.T) {
	dir := t.TempDir()
	const recordingID = int64(9)

	summary := RecordingSummary{
		RecordingID:       recordingID,
		StartPosition:     0,
		StopPosition:      100,
		InitialTermID:     0,
		StreamID:          7,
		TermBufferLength:  testTermLength,
		SegmentFileLength: testSegmentLength,
	}

	_, err := NewRecordingReader(dir, nil, summary, NullPosition, NullLength, nil)
	if err == nil {
		t.Fatal("expected an error opening a recording with no segment file on disk")
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("err = %v, want *IOError", err)
	}
}

func TestRecordingReaderAllowsFromPositionAtStopPosition(t *testing.T) {
	dir := t.TempDir()
	const recordingID = int64(3)
	buildTestSegment(t, dir, recordingID, 7, 0)

	summary := RecordingSummary{
		RecordingID:       recordingID,
		StartPosition:     0,
		StopPosition:      int64(testTermLength),
		InitialTermID:     0,
		StreamID:          7,
		TermBufferLength:  testTermLength,
		SegmentFileLength: testSegmentLength,
	}

	// fromPosition == stopPosition must skip the frame-alignment check,
	// per spec.md §9's first Open Question, since no frame header exists
	// there yet for a reader positioned exactly at the tail.
	reader, err := NewRecordingReader(dir, nil, summary, int64(testTermLength), NullLength, nil)
	if err != nil {
		t.Fatalf("NewRecordingReader at stopPosition: %v", err)
	}
	defer reader.Close()

	got, err := reader.Poll(func([]byte, wire.FrameType, uint8, int64) {}, 20)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got != 0 {
		t.Fatalf("delivered %d fragments from an empty completed reader, want 0", got)
	}
	if !reader.IsDone() {
		t.Fatal("expected an immediately-exhausted completed-recording reader to report done")
	}
}

func TestRecordingReaderCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	const recordingID = int64(4)
	buildTestSegment(t, dir, recordingID, 7, 0)

	summary := RecordingSummary{
		RecordingID:       recordingID,
		StartPosition:     0,
		StopPosition:      int64(testSegmentLength),
		InitialTermID:     0,
		StreamID:          7,
		TermBufferLength:  testTermLength,
		SegmentFileLength: testSegmentLength,
	}

	reader, err := NewRecordingReader(dir, nil, summary, NullPosition, NullLength, nil)
	if err != nil {
		t.Fatalf("NewRecordingReader: %v", err)
	}
	if err := reader.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := reader.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
