package replay

import (
	"fmt"
	"math/bits"
)

// SegmentFileName returns the stable on-disk name of one segment file of
// a recording, shared by pkg/replay (reader) and pkg/archive (writer) so
// the two halves of the recording always agree on where bytes live.
func SegmentFileName(recordingID int64, segmentIndex int32) string {
	return fmt.Sprintf("%d-%d.rec", recordingID, segmentIndex)
}

// PositionBitsToShift returns log2(termLength), valid only when termLength
// is a power of two, mirroring LogBufferDescriptor.positionBitsToShift.
func PositionBitsToShift(termLength int32) uint {
	return uint(bits.Len32(uint32(termLength)) - 1)
}

// SegmentIndexAndOffset locates the segment file containing position and
// position's own byte offset within that segment, given the recording's
// startPosition and term/segment geometry. segmentLength must be a
// positive multiple of termLength. Subtracting the caller's termOffset
// from segmentOffset yields the byte offset of that term's base within
// the segment, as pkg/archive.Recorder and the reader's construction both
// need.
func SegmentIndexAndOffset(startPosition, position int64, termLength, segmentLength int32) (index int32, segmentOffset int32) {
	startTermBasePosition := startPosition - (startPosition & int64(termLength-1))
	delta := position - startTermBasePosition
	index = int32(delta / int64(segmentLength))
	segmentOffset = int32(delta % int64(segmentLength))
	return index, segmentOffset
}
