package transport

import (
	"testing"

	"github.com/novatechflow/clusterlog/pkg/wire"
)

type recordingSink struct {
	headers  []wire.FrameHeader
	payloads [][]byte
}

func (s *recordingSink) WriteFrame(hdr wire.FrameHeader, payload []byte) error {
	s.headers = append(s.headers, hdr)
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

func newTestPublication(t *testing.T, sink FrameSink) *LocalPublication {
	t.Helper()
	pub, err := NewLocalPublication(LocalPublicationConfig{
		SessionID:        7,
		StreamID:         1,
		InitialTermID:    3,
		TermLength:       65536,
		MaxPayloadLength: 1376,
	}, sink)
	if err != nil {
		t.Fatalf("NewLocalPublication: %v", err)
	}
	return pub
}

func TestLocalPublicationOfferSingleAdvancesPosition(t *testing.T) {
	sink := &recordingSink{}
	pub := newTestPublication(t, sink)

	payload := []byte("hello world")
	result := pub.OfferSingle(payload, nil)
	if result <= 0 {
		t.Fatalf("expected positive result, got %d", result)
	}
	wantLen := wire.Align(wire.HeaderLength + int32(len(payload)))
	if pub.Position() != int64(wantLen) {
		t.Fatalf("position = %d, want %d", pub.Position(), wantLen)
	}
	if len(sink.headers) != 1 {
		t.Fatalf("expected 1 frame written, got %d", len(sink.headers))
	}
	if sink.headers[0].FrameLength != wire.HeaderLength+int32(len(payload)) {
		t.Fatalf("unexpected frameLength: %d", sink.headers[0].FrameLength)
	}
}

func TestLocalPublicationOfferFragmentsLargePayload(t *testing.T) {
	sink := &recordingSink{}
	pub := newTestPublication(t, sink)

	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}
	result := pub.OfferSingle(payload, nil)
	if result <= 0 {
		t.Fatalf("expected positive result, got %d", result)
	}
	if len(sink.headers) < 3 {
		t.Fatalf("expected at least 3 frames for a 3000-byte payload at maxPayload=1376, got %d", len(sink.headers))
	}
	var reassembled []byte
	for _, p := range sink.payloads {
		reassembled = append(reassembled, p...)
	}
	if len(reassembled) != len(payload) {
		t.Fatalf("reassembled length = %d, want %d", len(reassembled), len(payload))
	}
}

func TestLocalPublicationTryClaimCommit(t *testing.T) {
	sink := &recordingSink{}
	pub := newTestPublication(t, sink)

	claim, result := pub.TryClaim(24)
	if result <= 0 {
		t.Fatalf("expected positive result, got %d", result)
	}
	buf := claim.Buffer()
	if len(buf) != 24 {
		t.Fatalf("claim buffer length = %d, want 24", len(buf))
	}
	for i := range buf {
		buf[i] = byte(i)
	}
	claim.Commit()

	if len(sink.headers) != 1 {
		t.Fatalf("expected 1 frame written after commit, got %d", len(sink.headers))
	}
	if pub.Position() != int64(result) {
		t.Fatalf("position after commit = %d, want %d", pub.Position(), result)
	}
}

func TestLocalPublicationTryClaimAbortWritesPadding(t *testing.T) {
	sink := &recordingSink{}
	pub := newTestPublication(t, sink)

	claim, result := pub.TryClaim(16)
	if result <= 0 {
		t.Fatalf("expected positive result, got %d", result)
	}
	claim.Abort()
	if len(sink.headers) != 1 || !sink.headers[0].IsPaddingFrame() {
		t.Fatalf("expected a padding frame after abort, got %+v", sink.headers)
	}
}

func TestLocalPublicationForcedBackPressureThenSuccess(t *testing.T) {
	sink := &recordingSink{}
	pub := newTestPublication(t, sink)
	pub.ForceResult(BackPressured)
	pub.ForceResult(BackPressured)

	if r := pub.OfferSingle([]byte("x"), nil); r != BackPressured {
		t.Fatalf("attempt 1: got %d, want BackPressured", r)
	}
	if r := pub.OfferSingle([]byte("x"), nil); r != BackPressured {
		t.Fatalf("attempt 2: got %d, want BackPressured", r)
	}
	if r := pub.OfferSingle([]byte("x"), nil); r <= 0 {
		t.Fatalf("attempt 3: expected success, got %d", r)
	}
	if len(sink.headers) != 1 {
		t.Fatalf("expected exactly 1 frame written (only the successful attempt), got %d", len(sink.headers))
	}
}

func TestLocalPublicationCloseIsFatal(t *testing.T) {
	sink := &recordingSink{}
	pub := newTestPublication(t, sink)
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r := pub.OfferSingle([]byte("x"), nil); r != Closed {
		t.Fatalf("got %d, want Closed", r)
	}
	if _, r := pub.TryClaim(8); r != Closed {
		t.Fatalf("got %d, want Closed", r)
	}
}

func TestLocalPublicationTermFieldsAdvanceAcrossTermBoundary(t *testing.T) {
	sink := &recordingSink{}
	pub, err := NewLocalPublication(LocalPublicationConfig{
		SessionID:        1,
		StreamID:         1,
		InitialTermID:    0,
		TermLength:       64,
		MaxPayloadLength: 1376,
	}, sink)
	if err != nil {
		t.Fatalf("NewLocalPublication: %v", err)
	}
	// First frame fits in term 0; second frame's claimed position crosses
	// into term 1 once aligned, so its termId must increment.
	claim1, r := pub.TryClaim(8)
	if r <= 0 {
		t.Fatalf("first claim failed: %d", r)
	}
	claim1.Commit()
	claim2, r := pub.TryClaim(8)
	if r <= 0 {
		t.Fatalf("second claim failed: %d", r)
	}
	claim2.Commit()
	if len(sink.headers) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(sink.headers))
	}
	if sink.headers[1].TermID != 1 {
		t.Fatalf("expected second frame in term 1, got termId=%d", sink.headers[1].TermID)
	}
}

func TestNewLocalPublicationRejectsNonPowerOfTwoTermLength(t *testing.T) {
	if _, err := NewLocalPublication(LocalPublicationConfig{TermLength: 100, MaxPayloadLength: 1376}, &recordingSink{}); err == nil {
		t.Fatal("expected error for non-power-of-two term length")
	}
}
