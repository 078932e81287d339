// Package wire implements the frozen binary encoding for consensus log
// events: a small message header followed by a fixed block of scalar
// fields and, for some event kinds, a trailing variable-length tail.
package wire

import (
	"encoding/binary"
	"fmt"
)

// reader walks a byte slice field by field, matching the cursor-based
// decode idiom used throughout this codebase's other binary formats.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) read(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("wire: insufficient bytes: need %d have %d", n, r.remaining())
	}
	start := r.pos
	r.pos += n
	return r.buf[start:r.pos], nil
}

func (r *reader) Uint16() (uint16, error) {
	b, err := r.read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) Int32() (int32, error) {
	b, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (r *reader) Uint32() (uint32, error) {
	b, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) Int64() (int64, error) {
	b, err := r.read(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (r *reader) Uint8() (uint8, error) {
	b, err := r.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// String reads an int32-length-prefixed UTF-8 string, the variable-length
// tail shape used by SessionOpenEvent.responseChannel and
// MembershipChangeEvent.clusterMembers.
func (r *reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bytes reads an int32-length-prefixed byte slice.
func (r *reader) Bytes() ([]byte, error) {
	length, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, fmt.Errorf("wire: invalid length %d", length)
	}
	b, err := r.read(int(length))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

type writer struct {
	buf []byte
}

func newWriter(capacity int) *writer {
	return &writer{buf: make([]byte, 0, capacity)}
}

func (w *writer) write(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) Uint16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	w.write(tmp[:])
}

func (w *writer) Int32(v int32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	w.write(tmp[:])
}

func (w *writer) Uint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.write(tmp[:])
}

func (w *writer) Int64(v int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	w.write(tmp[:])
}

func (w *writer) Uint8(v uint8) {
	w.write([]byte{v})
}

func (w *writer) String(v string) {
	w.Bytes([]byte(v))
}

func (w *writer) Bytes(b []byte) {
	w.Int32(int32(len(b)))
	w.write(b)
}

func (w *writer) Len() int {
	return len(w.buf)
}
