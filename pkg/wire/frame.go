package wire

import (
	"encoding/binary"
	"fmt"
)

// FrameAlignment is the boundary every frame's on-wire length is rounded
// up to, matching FRAME_ALIGNMENT in spec.md §3.
const FrameAlignment = 32

// HeaderLength is the fixed size of FrameHeader.
const HeaderLength = 32

// reservedValueOffset is the byte offset of FrameHeader.ReservedValue
// within its encoded 32 bytes.
const reservedValueOffset = 24

// FrameType distinguishes padding frames from data frames carrying a
// wire.MessageHeader-prefixed event record.
type FrameType uint16

const (
	FrameTypeData    FrameType = 0
	FrameTypePadding FrameType = 1
)

// FrameHeader is the 32-byte envelope written ahead of every event record
// on disk and on the wire. It is a distinct layer from MessageHeader: the
// frame header addresses a position within a term/segment, the message
// header identifies the event kind carried inside the frame.
type FrameHeader struct {
	FrameLength   int32
	Version       uint8
	Flags         uint8
	FrameType     FrameType
	TermOffset    int32
	SessionID     int32
	StreamID      int32
	TermID        int32
	ReservedValue int64
}

// Align rounds length up to the next multiple of FrameAlignment.
func Align(length int32) int32 {
	return (length + (FrameAlignment - 1)) &^ (FrameAlignment - 1)
}

// FragmentedLength computes the total on-wire length of a record split
// across full frames of at most maxPayload bytes each, per spec.md §3:
// fullFrames*(maxPayload+HEADER_LENGTH) + lastFrame, where lastFrame is
// the aligned length of the header plus whatever payload remains.
func FragmentedLength(payloadLength int32, maxPayload int32) int32 {
	if payloadLength <= maxPayload {
		return Align(HeaderLength + payloadLength)
	}
	fullFrames := payloadLength / maxPayload
	remainder := payloadLength % maxPayload
	lastFrame := Align(HeaderLength + remainder)
	if remainder == 0 {
		fullFrames--
		lastFrame = Align(HeaderLength + maxPayload)
	}
	return fullFrames*(maxPayload+HeaderLength) + lastFrame
}

// Encode writes the 32-byte header into buf[0:32].
func (h FrameHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.FrameLength))
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.LittleEndian.PutUint16(buf[6:8], uint16(h.FrameType))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.TermOffset))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.SessionID))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.StreamID))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(h.TermID))
	binary.LittleEndian.PutUint64(buf[reservedValueOffset:reservedValueOffset+8], uint64(h.ReservedValue))
}

// DecodeFrameHeader parses a 32-byte frame header from buf[0:32].
func DecodeFrameHeader(buf []byte) (FrameHeader, error) {
	var h FrameHeader
	if len(buf) < HeaderLength {
		return h, fmt.Errorf("wire: short frame header: need %d have %d", HeaderLength, len(buf))
	}
	h.FrameLength = int32(binary.LittleEndian.Uint32(buf[0:4]))
	h.Version = buf[4]
	h.Flags = buf[5]
	h.FrameType = FrameType(binary.LittleEndian.Uint16(buf[6:8]))
	h.TermOffset = int32(binary.LittleEndian.Uint32(buf[8:12]))
	h.SessionID = int32(binary.LittleEndian.Uint32(buf[12:16]))
	h.StreamID = int32(binary.LittleEndian.Uint32(buf[16:20]))
	h.TermID = int32(binary.LittleEndian.Uint32(buf[20:24]))
	h.ReservedValue = int64(binary.LittleEndian.Uint64(buf[reservedValueOffset : reservedValueOffset+8]))
	return h, nil
}

// IsPaddingFrame reports whether the header describes a padding frame
// rather than a live data record.
func (h FrameHeader) IsPaddingFrame() bool {
	return h.FrameType == FrameTypePadding
}
