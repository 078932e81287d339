package wire

import "testing"

func TestMessageHeaderRoundTrip(t *testing.T) {
	w := newWriter(MessageHeaderLength)
	MessageHeader{BlockLength: 24, TemplateID: TemplateSessionMessage, SchemaID: SchemaID, Version: SchemaVersion}.encode(w)

	h, err := decodeMessageHeader(newReader(w.buf))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.BlockLength != 24 || h.TemplateID != TemplateSessionMessage || h.SchemaID != SchemaID || h.Version != SchemaVersion {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestPeekTemplate(t *testing.T) {
	buf := make([]byte, TimerEventLength)
	TimerEvent{LeadershipTermID: 1, CorrelationID: 2, Timestamp: 3}.EncodeInto(buf)
	tmpl, err := PeekTemplate(buf)
	if err != nil {
		t.Fatalf("PeekTemplate: %v", err)
	}
	if tmpl != TemplateTimerEvent {
		t.Fatalf("got template %v, want %v", tmpl, TemplateTimerEvent)
	}
}
