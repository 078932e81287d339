package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/novatechflow/clusterlog/pkg/replay"
	"github.com/novatechflow/clusterlog/pkg/wire"
)

// RecorderConfig fixes the geometry of the recording a Recorder writes,
// mirroring the configuration a RecordingReader is later opened with.
type RecorderConfig struct {
	RecordingID   int64
	ArchiveDir    string
	StreamID      int32
	InitialTermID int32
	StartPosition int64
	TermLength    int32
	SegmentLength int32
	IndexInterval int32
}

// SealedSegment is handed to a Recorder's onSegmentSealed callback once a
// segment is full, or the Recorder is closed, and its local bytes are
// frozen, for the caller to seal
// out to durable storage on its own schedule — mirroring the teacher's
// PartitionLog onFlush/onS3Op callback pair, which separates the hot
// write path from the (possibly slow) durability path.
type SealedSegment struct {
	SegmentIndex int32
	SegmentBytes []byte
	IndexBytes   []byte
}

// Recorder is the write side of a recording: it implements
// transport.FrameSink, turning each frame a publication commits into the
// on-disk segment/term/frame layout pkg/replay reads back, rolling over
// to a new segment file at SegmentLength. It also satisfies
// replay.PositionCounter and replay.Catalog for itself, so a reader can
// tail the same recording in-process without any external wiring.
type Recorder struct {
	cfg RecorderConfig

	mu               sync.Mutex
	file             *os.File
	segmentFileIndex int32
	position         int64
	closed           bool
	stopPosition     int64

	indexBuilder *IndexBuilder

	onSegmentSealed func(SealedSegment)
}

// NewRecorder constructs a Recorder. onSegmentSealed may be nil; when
// set, it is invoked synchronously whenever a segment fills and rolls
// over, and once more by Close for the current segment, handing over
// that segment's frozen bytes and sparse index.
func NewRecorder(cfg RecorderConfig, onSegmentSealed func(SealedSegment)) (*Recorder, error) {
	if cfg.TermLength <= 0 || cfg.TermLength&(cfg.TermLength-1) != 0 {
		return nil, fmt.Errorf("archive: term length %d is not a power of two", cfg.TermLength)
	}
	if cfg.SegmentLength <= 0 || cfg.SegmentLength%cfg.TermLength != 0 {
		return nil, fmt.Errorf("archive: segment length %d is not a positive multiple of term length %d", cfg.SegmentLength, cfg.TermLength)
	}
	r := &Recorder{
		cfg:             cfg,
		position:        cfg.StartPosition,
		indexBuilder:    NewIndexBuilder(cfg.IndexInterval),
		onSegmentSealed: onSegmentSealed,
	}
	index, _ := replay.SegmentIndexAndOffset(cfg.StartPosition, cfg.StartPosition, cfg.TermLength, cfg.SegmentLength)
	r.segmentFileIndex = index
	if err := r.openSegment(); err != nil {
		return nil, err
	}
	return r, nil
}

// WriteFrame implements transport.FrameSink. Frames must arrive in
// position order; Recorder is the single writer of its own recording.
func (r *Recorder) WriteFrame(hdr wire.FrameHeader, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("archive: recorder for recording %d is closed", r.cfg.RecordingID)
	}

	alignedLength := wire.Align(hdr.FrameLength)
	buf := make([]byte, alignedLength)
	hdr.Encode(buf)
	copy(buf[wire.HeaderLength:], payload)

	segIndex, segOffset := replay.SegmentIndexAndOffset(r.cfg.StartPosition, r.position, r.cfg.TermLength, r.cfg.SegmentLength)
	if segIndex != r.segmentFileIndex {
		if err := r.rollSegment(segIndex); err != nil {
			return err
		}
	}

	if _, err := r.file.WriteAt(buf, int64(segOffset)); err != nil {
		return fmt.Errorf("archive: write frame at segment offset %d: %w", segOffset, err)
	}

	r.indexBuilder.MaybeAdd(r.position, segOffset)
	r.position += int64(alignedLength)
	return nil
}

// rollSegment seals the current segment file (reading it back for the
// onSegmentSealed callback) and opens next.
func (r *Recorder) rollSegment(nextIndex int32) error {
	if err := r.sealCurrentSegmentLocked(); err != nil {
		return err
	}
	r.segmentFileIndex = nextIndex
	r.indexBuilder = NewIndexBuilder(r.cfg.IndexInterval)
	return r.openSegment()
}

func (r *Recorder) sealCurrentSegmentLocked() error {
	if r.file == nil {
		return nil
	}
	var sealedBytes []byte
	if r.onSegmentSealed != nil {
		data := make([]byte, r.cfg.SegmentLength)
		if _, err := r.file.ReadAt(data, 0); err != nil {
			return fmt.Errorf("archive: read segment %d for sealing: %w", r.segmentFileIndex, err)
		}
		sealedBytes = data
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("archive: close segment %d: %w", r.segmentFileIndex, err)
	}
	r.file = nil

	if r.onSegmentSealed != nil {
		indexBytes, err := r.indexBuilder.BuildBytes()
		if err != nil {
			return fmt.Errorf("archive: build index for segment %d: %w", r.segmentFileIndex, err)
		}
		r.onSegmentSealed(SealedSegment{
			SegmentIndex: r.segmentFileIndex,
			SegmentBytes: sealedBytes,
			IndexBytes:   indexBytes,
		})
	}
	return nil
}

func (r *Recorder) openSegment() error {
	name := replay.SegmentFileName(r.cfg.RecordingID, r.segmentFileIndex)
	path := filepath.Join(r.cfg.ArchiveDir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("archive: create segment file %s: %w", name, err)
	}
	if err := f.Truncate(int64(r.cfg.SegmentLength)); err != nil {
		f.Close()
		return fmt.Errorf("archive: preallocate segment file %s: %w", name, err)
	}
	r.file = f
	return nil
}

// Get implements replay.PositionCounter: the latest durable position.
func (r *Recorder) Get() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

// IsClosed implements replay.PositionCounter.
func (r *Recorder) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// StopPosition implements replay.Catalog for this Recorder's own
// recording, once closed.
func (r *Recorder) StopPosition(recordingID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if recordingID != r.cfg.RecordingID {
		return 0, fmt.Errorf("archive: recorder only knows recording %d, not %d", r.cfg.RecordingID, recordingID)
	}
	if !r.closed {
		return 0, fmt.Errorf("archive: recording %d has not stopped", recordingID)
	}
	return r.stopPosition, nil
}

// Summary returns the RecordingSummary describing this Recorder's
// recording so far, for handing to replay.NewRecordingReader.
func (r *Recorder) Summary() replay.RecordingSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return replay.RecordingSummary{
		RecordingID:       r.cfg.RecordingID,
		StartPosition:     r.cfg.StartPosition,
		StopPosition:      r.stopPosition,
		InitialTermID:     r.cfg.InitialTermID,
		StreamID:          r.cfg.StreamID,
		TermBufferLength:  r.cfg.TermLength,
		SegmentFileLength: r.cfg.SegmentLength,
	}
}

// Close seals the current segment and marks the recording stopped at its
// current position.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if err := r.sealCurrentSegmentLocked(); err != nil {
		return err
	}
	r.stopPosition = r.position
	r.closed = true
	return nil
}
