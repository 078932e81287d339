package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const indexMagic = "CLIX"

// IndexEntry is one sparse index row: the log position of a frame's first
// byte, and that frame's byte offset within its sealed segment.
type IndexEntry struct {
	Position   int64
	ByteOffset int32
}

// IndexBuilder accumulates a sparse index over a segment's frames while
// Recorder writes them, emitting one entry every interval frames so a
// durable-tier reader can seek close to a position without scanning the
// whole segment.
type IndexBuilder struct {
	interval  int32
	sinceLast int32
	entries   []IndexEntry
}

// NewIndexBuilder constructs a builder emitting an entry every interval
// frames (clamped to at least 1).
func NewIndexBuilder(interval int32) *IndexBuilder {
	if interval <= 0 {
		interval = 1
	}
	return &IndexBuilder{interval: interval}
}

// MaybeAdd records an index entry for (position, byteOffset) when the
// interval has elapsed or no entry exists yet.
func (b *IndexBuilder) MaybeAdd(position int64, byteOffset int32) {
	if len(b.entries) == 0 || b.sinceLast >= b.interval {
		b.entries = append(b.entries, IndexEntry{Position: position, ByteOffset: byteOffset})
		b.sinceLast = 0
	}
	b.sinceLast++
}

// Entries returns a copy of the index rows recorded so far.
func (b *IndexBuilder) Entries() []IndexEntry {
	out := make([]IndexEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// BuildBytes encodes the index header and entries for upload alongside a
// sealed segment.
func (b *IndexBuilder) BuildBytes() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 16+12*len(b.entries)))
	buf.WriteString(indexMagic)
	if err := binary.Write(buf, binary.BigEndian, uint16(1)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, int32(len(b.entries))); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, b.interval); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(0)); err != nil { // reserved
		return nil, err
	}
	for _, entry := range b.entries {
		if err := binary.Write(buf, binary.BigEndian, entry.Position); err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.BigEndian, entry.ByteOffset); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ParseIndex validates and decodes a sparse index previously produced by
// BuildBytes.
func ParseIndex(data []byte) ([]IndexEntry, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("archive: index too small")
	}
	if string(data[:4]) != indexMagic {
		return nil, fmt.Errorf("archive: invalid index magic")
	}
	reader := bytes.NewReader(data[4:])
	var version uint16
	if err := binary.Read(reader, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, fmt.Errorf("archive: unsupported index version %d", version)
	}
	var count int32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	var interval int32
	if err := binary.Read(reader, binary.BigEndian, &interval); err != nil {
		return nil, err
	}
	var reserved uint16
	if err := binary.Read(reader, binary.BigEndian, &reserved); err != nil {
		return nil, err
	}
	_ = reserved
	_ = interval

	entries := make([]IndexEntry, count)
	for i := int32(0); i < count; i++ {
		if err := binary.Read(reader, binary.BigEndian, &entries[i].Position); err != nil {
			return nil, err
		}
		if err := binary.Read(reader, binary.BigEndian, &entries[i].ByteOffset); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
