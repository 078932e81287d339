package transport

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/novatechflow/clusterlog/pkg/wire"
)

// FrameSink receives each frame a LocalPublication commits, in position
// order. pkg/archive.Recorder is the production implementation; it turns
// these calls into the exact on-disk segment/term layout pkg/replay reads
// back. Tests may supply a simpler in-memory sink.
type FrameSink interface {
	WriteFrame(hdr wire.FrameHeader, payload []byte) error
}

// LocalPublicationConfig fixes the stream identity and term geometry for
// the lifetime of a LocalPublication, mirroring the Aeron channel
// parameters a real UDP publication would be configured with.
type LocalPublicationConfig struct {
	SessionID         int32
	StreamID          int32
	InitialTermID     int32
	TermLength        int32 // must be a power of two
	MaxPayloadLength  int32
}

// LocalPublication is an in-process Publication over a FrameSink. It is
// the single writer of its position counter and performs no goroutine
// synchronisation beyond a mutex guarding that counter, matching the
// "single-threaded cooperative" model of spec.md §5 — the production
// duty cycle calls it from a single goroutine.
type LocalPublication struct {
	cfg  LocalPublicationConfig
	sink FrameSink

	mu       sync.Mutex
	position int64
	closed   bool

	termLengthBits uint
	termMask       int32

	// forcedResults lets tests inject back-pressure/admin-action/fatal
	// codes ahead of the next N offer/tryClaim calls, in FIFO order.
	forcedResults []ResultCode
}

// NewLocalPublication constructs a publication writing to sink.
func NewLocalPublication(cfg LocalPublicationConfig, sink FrameSink) (*LocalPublication, error) {
	if cfg.TermLength <= 0 || cfg.TermLength&(cfg.TermLength-1) != 0 {
		return nil, fmt.Errorf("transport: term length %d is not a power of two", cfg.TermLength)
	}
	return &LocalPublication{
		cfg:            cfg,
		sink:           sink,
		termLengthBits: uint(bits.Len32(uint32(cfg.TermLength)) - 1),
		termMask:       cfg.TermLength - 1,
	}, nil
}

// ForceResult queues a result code to return from the next offer or claim
// call instead of performing it, for exercising the publisher's retry and
// fatal-error paths deterministically.
func (p *LocalPublication) ForceResult(code ResultCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forcedResults = append(p.forcedResults, code)
}

func (p *LocalPublication) takeForcedResult() (ResultCode, bool) {
	if len(p.forcedResults) == 0 {
		return 0, false
	}
	code := p.forcedResults[0]
	p.forcedResults = p.forcedResults[1:]
	return code, true
}

func (p *LocalPublication) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *LocalPublication) SessionID() int32 {
	return p.cfg.SessionID
}

func (p *LocalPublication) MaxPayloadLength() int32 {
	return p.cfg.MaxPayloadLength
}

func (p *LocalPublication) AddDestination(uri string) error {
	return nil
}

func (p *LocalPublication) RemoveDestination(uri string) error {
	return nil
}

func (p *LocalPublication) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// termFields derives (termId, termOffset) for a frame starting at pos,
// from the fixed term geometry, matching the arithmetic pkg/replay uses
// to parse the same header fields back out.
func (p *LocalPublication) termFields(pos int64) (termID, termOffset int32) {
	termIndex := pos >> p.termLengthBits
	termID = p.cfg.InitialTermID + int32(termIndex)
	termOffset = int32(pos) & p.termMask
	return
}

// writeFragments splits combined into frames of at most MaxPayloadLength
// bytes each, writes them to the sink in order, and advances position.
// It returns the position after the last byte written.
func (p *LocalPublication) writeFragments(combined []byte, frameType wire.FrameType, reserved ReservedValueSupplier) (int64, error) {
	remaining := combined
	for len(remaining) > 0 {
		chunk := remaining
		if int32(len(chunk)) > p.cfg.MaxPayloadLength {
			chunk = chunk[:p.cfg.MaxPayloadLength]
		}
		remaining = remaining[len(chunk):]

		termID, termOffset := p.termFields(p.position)
		frameLength := wire.HeaderLength + int32(len(chunk))
		var reservedValue int64
		if reserved != nil {
			reservedValue = reserved(chunk, termOffset, frameLength)
		}
		hdr := wire.FrameHeader{
			FrameLength:   frameLength,
			FrameType:     frameType,
			TermOffset:    termOffset,
			SessionID:     p.cfg.SessionID,
			StreamID:      p.cfg.StreamID,
			TermID:        termID,
			ReservedValue: reservedValue,
		}
		if err := p.sink.WriteFrame(hdr, chunk); err != nil {
			return 0, err
		}
		p.position += int64(wire.Align(frameLength))
	}
	return p.position, nil
}

func (p *LocalPublication) Offer(header, payload []byte, reserved ReservedValueSupplier) ResultCode {
	combined := make([]byte, 0, len(header)+len(payload))
	combined = append(combined, header...)
	combined = append(combined, payload...)
	return p.OfferSingle(combined, reserved)
}

func (p *LocalPublication) OfferSingle(buf []byte, reserved ReservedValueSupplier) ResultCode {
	p.mu.Lock()
	defer p.mu.Unlock()

	if code, forced := p.takeForcedResult(); forced {
		return code
	}
	if p.closed {
		return Closed
	}
	newPos, err := p.writeFragments(buf, wire.FrameTypeData, reserved)
	if err != nil {
		return Closed
	}
	return ResultCode(newPos)
}

func (p *LocalPublication) TryClaim(length int32) (*BufferClaim, ResultCode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if code, forced := p.takeForcedResult(); forced {
		return nil, code
	}
	if p.closed {
		return nil, Closed
	}
	if length > p.cfg.MaxPayloadLength {
		return nil, MaxPositionExceeded
	}

	claimPosition := p.position
	termID, termOffset := p.termFields(claimPosition)
	frameLength := wire.HeaderLength + length
	alignedLength := wire.Align(frameLength)
	buffer := make([]byte, length)

	claim := &BufferClaim{
		buffer: buffer,
		offset: 0,
		length: length,
	}
	claim.commit = func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		hdr := wire.FrameHeader{
			FrameLength: frameLength,
			FrameType:   wire.FrameTypeData,
			TermOffset:  termOffset,
			SessionID:   p.cfg.SessionID,
			StreamID:    p.cfg.StreamID,
			TermID:      termID,
		}
		_ = p.sink.WriteFrame(hdr, buffer)
		p.position = claimPosition + int64(alignedLength)
	}
	claim.abort = func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		hdr := wire.FrameHeader{
			FrameLength: frameLength,
			FrameType:   wire.FrameTypePadding,
			TermOffset:  termOffset,
			SessionID:   p.cfg.SessionID,
			StreamID:    p.cfg.StreamID,
			TermID:      termID,
		}
		_ = p.sink.WriteFrame(hdr, buffer)
		p.position = claimPosition + int64(alignedLength)
	}
	// Report the position the claimed frame will end at once committed;
	// the position itself advances only on Commit or Abort.
	_ = termID
	return claim, ResultCode(claimPosition + int64(alignedLength))
}
