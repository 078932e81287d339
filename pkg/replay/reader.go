package replay

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/novatechflow/clusterlog/pkg/wire"
)

// FragmentHandler receives one delivered frame's payload during Poll, the
// produced contract RecordingReader calls into.
type FragmentHandler func(payload []byte, frameType wire.FrameType, flags uint8, reservedValue int64)

// RecordingReader replays a recording's bytes in position order, mapping
// one segment at a time. Construct with NewRecordingReader; Close (or
// allowing Poll to finish the recording) releases the mapped segment.
type RecordingReader struct {
	archiveDir    string
	recordingID   int64
	segmentLength int32
	termLength    int32
	streamID      int32
	initialTermID int32
	startPosition int64

	catalog           Catalog
	recordingPosition PositionCounter

	mappedSegment []byte
	termBuffer    []byte

	stopPosition          int64
	replayPosition        int64
	replayLimit           int64
	termOffset            int32
	termBaseSegmentOffset int32
	segmentFileIndex      int32
	isDone                bool
}

// NewRecordingReader opens a reader per spec.md §4.3's construction
// algorithm. recordingPosition is nil for a completed recording (stop
// position comes from summary/catalog); non-nil for a live recording
// being tailed, in which case catalog resolves the durable stop position
// once the writer closes it out.
func NewRecordingReader(
	archiveDir string,
	catalog Catalog,
	summary RecordingSummary,
	position int64,
	length int64,
	recordingPosition PositionCounter,
) (*RecordingReader, error) {
	r := &RecordingReader{
		archiveDir:        archiveDir,
		recordingID:       summary.RecordingID,
		segmentLength:     summary.SegmentFileLength,
		termLength:        summary.TermBufferLength,
		streamID:          summary.StreamID,
		initialTermID:     summary.InitialTermID,
		startPosition:     summary.StartPosition,
		catalog:           catalog,
		recordingPosition: recordingPosition,
	}

	if recordingPosition == nil {
		r.stopPosition = summary.StopPosition
	} else {
		r.stopPosition = recordingPosition.Get()
	}

	fromPosition := position
	if fromPosition == NullPosition {
		fromPosition = summary.StartPosition
	}

	var maxLength int64
	if recordingPosition == nil {
		maxLength = r.stopPosition - fromPosition
	} else {
		maxLength = maxInt64 - fromPosition
	}

	replayLength := length
	if length == NullLength || length > maxLength {
		replayLength = maxLength
	}
	if replayLength < 0 {
		return nil, &InvalidArgumentError{Msg: fmt.Sprintf("length must be positive, got %d", replayLength)}
	}

	if recordingPosition != nil {
		if current := recordingPosition.Get(); current < fromPosition {
			return nil, &InvalidArgumentError{Msg: fmt.Sprintf("position %d after current recording position %d", fromPosition, current)}
		}
	}

	shift := PositionBitsToShift(r.termLength)
	termID := int32(fromPosition>>shift) + summary.InitialTermID

	segIndex, segOffset := SegmentIndexAndOffset(summary.StartPosition, fromPosition, r.termLength, r.segmentLength)
	r.segmentFileIndex = segIndex

	if err := r.openRecordingSegment(); err != nil {
		return nil, err
	}

	r.termOffset = int32(fromPosition & int64(r.termLength-1))
	r.termBaseSegmentOffset = segOffset - r.termOffset
	r.termBuffer = r.mappedSegment[r.termBaseSegmentOffset : r.termBaseSegmentOffset+r.termLength]

	if fromPosition > summary.StartPosition && fromPosition != r.stopPosition {
		hdr, err := wire.DecodeFrameHeader(r.termBuffer[r.termOffset:])
		if err != nil || hdr.TermOffset != r.termOffset || hdr.TermID != termID || hdr.StreamID != summary.StreamID {
			r.Close()
			return nil, &InvalidArgumentError{Msg: fmt.Sprintf("position %d not aligned to a valid fragment", fromPosition)}
		}
	}

	r.replayPosition = fromPosition
	r.replayLimit = fromPosition + replayLength
	if recordingPosition == nil && r.replayPosition >= r.replayLimit {
		// Nothing to replay for a completed recording opened at or past
		// its own limit: there will never be a poll call whose loop body
		// can run to discover this, so mark it done up front.
		r.isDone = true
		r.closeRecordingSegment()
	}
	return r, nil
}

const maxInt64 = 1<<63 - 1

// Close unmaps the current segment, if any. Idempotent, and always safe
// on a partially constructed reader.
func (r *RecordingReader) Close() error {
	return r.closeRecordingSegment()
}

// RecordingID returns the recording this reader replays.
func (r *RecordingReader) RecordingID() int64 { return r.recordingID }

// ReplayPosition returns the position of the next byte to be delivered.
func (r *RecordingReader) ReplayPosition() int64 { return r.replayPosition }

// IsDone reports whether the reader has delivered every frame up to its
// replay limit.
func (r *RecordingReader) IsDone() bool { return r.isDone }

// Poll delivers up to fragmentLimit fragments to handler, advancing
// replayPosition by each frame's aligned length, per spec.md §4.3.
func (r *RecordingReader) Poll(handler FragmentHandler, fragmentLimit int) (int, error) {
	fragments := 0

	if r.recordingPosition != nil && r.replayPosition == r.stopPosition {
		noNew, err := r.noNewData()
		if err != nil {
			return 0, err
		}
		if noNew {
			return fragments, nil
		}
	}

	for r.replayPosition < r.stopPosition && fragments < fragmentLimit {
		if r.termOffset == r.termLength {
			if err := r.nextTerm(); err != nil {
				return fragments, err
			}
		}

		frameOffset := r.termOffset
		hdr, err := wire.DecodeFrameHeader(r.termBuffer[frameOffset:])
		if err != nil {
			return fragments, err
		}

		alignedLength := wire.Align(hdr.FrameLength)
		dataOffset := frameOffset + wire.HeaderLength
		dataLength := hdr.FrameLength - wire.HeaderLength
		payload := r.termBuffer[dataOffset : dataOffset+dataLength]

		handler(payload, hdr.FrameType, hdr.Flags, hdr.ReservedValue)

		r.replayPosition += int64(alignedLength)
		r.termOffset += alignedLength
		fragments++

		if r.replayPosition >= r.replayLimit {
			r.isDone = true
			r.closeRecordingSegment()
			break
		}
	}

	return fragments, nil
}

// noNewData implements spec.md §4.3's live-tailing refresh. It lowers
// replayLimit before reporting "new data available", per the ordering
// spec.md §9's second Open Question calls out, to avoid over-reading past
// a stop position that arrived in the same call that closed the recording.
func (r *RecordingReader) noNewData() (bool, error) {
	oldStopPosition := r.stopPosition
	currentRecordingPosition := r.recordingPosition.Get()
	hasRecordingStopped := r.recordingPosition.IsClosed()

	newStopPosition := currentRecordingPosition
	if hasRecordingStopped {
		pos, err := r.catalog.StopPosition(r.recordingID)
		if err != nil {
			return false, err
		}
		newStopPosition = pos
	}

	if hasRecordingStopped && newStopPosition < r.replayLimit {
		r.replayLimit = newStopPosition
	}

	if r.replayPosition >= r.replayLimit {
		r.isDone = true
		return true, nil
	}
	if newStopPosition > oldStopPosition {
		r.stopPosition = newStopPosition
		return false, nil
	}

	return true, nil
}

// nextTerm advances termOffset and, if the current segment is exhausted,
// unmaps it and opens the next one.
func (r *RecordingReader) nextTerm() error {
	r.termOffset = 0
	r.termBaseSegmentOffset += r.termLength

	if r.termBaseSegmentOffset == r.segmentLength {
		if err := r.closeRecordingSegment(); err != nil {
			return err
		}
		r.segmentFileIndex++
		if err := r.openRecordingSegment(); err != nil {
			return err
		}
		r.termBaseSegmentOffset = 0
	}

	r.termBuffer = r.mappedSegment[r.termBaseSegmentOffset : r.termBaseSegmentOffset+r.termLength]
	return nil
}

func (r *RecordingReader) closeRecordingSegment() error {
	if r.mappedSegment == nil {
		return nil
	}
	err := unix.Munmap(r.mappedSegment)
	r.mappedSegment = nil
	r.termBuffer = nil
	return err
}

func (r *RecordingReader) openRecordingSegment() error {
	name := SegmentFileName(r.recordingID, r.segmentFileIndex)
	path := r.archiveDir + "/" + name

	f, err := os.Open(path)
	if err != nil {
		return &IOError{Path: path, Err: err}
	}
	defer f.Close()

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(r.segmentLength), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return &IOError{Path: path, Err: err}
	}
	r.mappedSegment = mapped
	return nil
}
