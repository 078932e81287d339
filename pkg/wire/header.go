package wire

// MessageHeaderLength is the encoded size of MessageHeader.
const MessageHeaderLength = 8

// SchemaID and SchemaVersion are frozen for the lifetime of this wire
// format; a future schema change would bump SchemaVersion and add fields
// only at the tail of a block, never reorder or remove existing ones.
const (
	SchemaID      uint16 = 1
	SchemaVersion uint16 = 1
)

// Template identifies which event decoder applies to a record.
type Template uint16

const (
	TemplateSessionMessage         Template = 1
	TemplateSessionOpenEvent       Template = 2
	TemplateSessionCloseEvent      Template = 3
	TemplateTimerEvent             Template = 4
	TemplateClusterActionRequest   Template = 5
	TemplateNewLeadershipTermEvent Template = 6
	TemplateMembershipChangeEvent  Template = 7
)

// MessageHeader prefixes every event record: which template decodes the
// block that follows, how long that fixed block is, and which schema
// version produced it.
type MessageHeader struct {
	BlockLength uint16
	TemplateID  Template
	SchemaID    uint16
	Version     uint16
}

func (h MessageHeader) encode(w *writer) {
	w.Uint16(h.BlockLength)
	w.Uint16(uint16(h.TemplateID))
	w.Uint16(h.SchemaID)
	w.Uint16(h.Version)
}

func decodeMessageHeader(r *reader) (MessageHeader, error) {
	var h MessageHeader
	blockLength, err := r.Uint16()
	if err != nil {
		return h, err
	}
	templateID, err := r.Uint16()
	if err != nil {
		return h, err
	}
	schemaID, err := r.Uint16()
	if err != nil {
		return h, err
	}
	version, err := r.Uint16()
	if err != nil {
		return h, err
	}
	h.BlockLength = blockLength
	h.TemplateID = Template(templateID)
	h.SchemaID = schemaID
	h.Version = version
	return h, nil
}

// PeekTemplate reads only the message header to learn which event kind
// follows, without consuming the buffer the caller still needs to decode.
func PeekTemplate(buf []byte) (Template, error) {
	h, err := decodeMessageHeader(newReader(buf))
	if err != nil {
		return 0, err
	}
	return h.TemplateID, nil
}
