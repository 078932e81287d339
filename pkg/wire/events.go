package wire

// CloseReason enumerates why a cluster session was closed.
type CloseReason int32

const (
	CloseReasonClientAction CloseReason = 0
	CloseReasonTimeout      CloseReason = 1
	CloseReasonServiceAction CloseReason = 2
	CloseReasonInvalidSession CloseReason = 3
)

// ClusterAction enumerates administrative actions a leader can request
// the cluster to take (snapshot, shutdown, abort).
type ClusterAction int32

const (
	ClusterActionSnapshot ClusterAction = 0
	ClusterActionShutdown ClusterAction = 1
	ClusterActionAbort    ClusterAction = 2
)

// ChangeType enumerates membership-change kinds.
type ChangeType int32

const (
	ChangeTypeJoin   ChangeType = 0
	ChangeTypeQuit   ChangeType = 1
	ChangeTypeRemove ChangeType = 2
)

// SessionMessageHeader is the 24-byte fixed block prefixed to an opaque
// client payload on every append_message call. Only leadershipTermId,
// clusterSessionId, and timestamp are rewritten per spec.md's invariant
// that "other header bytes are fixed" — callers obtain one encoded buffer
// from EncodeSessionMessageHeaderTemplate and rewrite it in place across
// calls with PutSessionMessageHeaderFields.
type SessionMessageHeader struct {
	LeadershipTermID int64
	ClusterSessionID int64
	Timestamp        int64
}

// SessionMessageHeaderBlockLength is the fixed-block size of SessionMessageHeader.
const SessionMessageHeaderBlockLength = 24

// SessionHeaderLength is the total size of an encoded SessionMessageHeader
// including its MessageHeader prefix; this is what the publisher's
// reusable scratch buffer is sized for.
const SessionHeaderLength = MessageHeaderLength + SessionMessageHeaderBlockLength

// EncodeSessionMessageHeaderTemplate writes a fresh header with the
// message-header prefix applied, ready to be mutated and reoffered on
// every append_message call without re-wrapping.
func EncodeSessionMessageHeaderTemplate() []byte {
	buf := make([]byte, SessionHeaderLength)
	w := &writer{buf: buf[:0]}
	MessageHeader{BlockLength: SessionMessageHeaderBlockLength, TemplateID: TemplateSessionMessage, SchemaID: SchemaID, Version: SchemaVersion}.encode(w)
	(SessionMessageHeader{}).encode(w)
	return buf
}

func (h SessionMessageHeader) encode(w *writer) {
	w.Int64(h.LeadershipTermID)
	w.Int64(h.ClusterSessionID)
	w.Int64(h.Timestamp)
}

// PutSessionMessageHeaderFields rewrites the three mutable fields of a
// previously-templated session header buffer in place, avoiding the
// allocation a full re-encode would cost.
func PutSessionMessageHeaderFields(buf []byte, leadershipTermID, clusterSessionID, timestamp int64) {
	w := &writer{buf: buf[MessageHeaderLength:][:0]}
	w.Int64(leadershipTermID)
	w.Int64(clusterSessionID)
	w.Int64(timestamp)
}

// SessionOpenEvent records a client's session establishment.
type SessionOpenEvent struct {
	LeadershipTermID  int64
	ClusterSessionID  int64
	CorrelationID     int64
	Timestamp         int64
	ResponseStreamID  int32
	ResponseChannel   string
	EncodedPrincipal  []byte
}

const sessionOpenEventBlockLength = 8 + 8 + 8 + 8 + 4

// Encode appends the message header, fixed block, and variable tail to a
// fresh buffer sized for the worst case the caller supplies.
func (e SessionOpenEvent) Encode() []byte {
	w := newWriter(MessageHeaderLength + sessionOpenEventBlockLength + 4 + len(e.ResponseChannel) + 4 + len(e.EncodedPrincipal))
	MessageHeader{BlockLength: sessionOpenEventBlockLength, TemplateID: TemplateSessionOpenEvent, SchemaID: SchemaID, Version: SchemaVersion}.encode(w)
	w.Int64(e.LeadershipTermID)
	w.Int64(e.ClusterSessionID)
	w.Int64(e.CorrelationID)
	w.Int64(e.Timestamp)
	w.Int32(e.ResponseStreamID)
	w.String(e.ResponseChannel)
	w.Bytes(e.EncodedPrincipal)
	return w.buf
}

// DecodeSessionOpenEvent parses a full record (message header included).
func DecodeSessionOpenEvent(buf []byte) (SessionOpenEvent, error) {
	var e SessionOpenEvent
	r := newReader(buf)
	if _, err := decodeMessageHeader(r); err != nil {
		return e, err
	}
	var err error
	if e.LeadershipTermID, err = r.Int64(); err != nil {
		return e, err
	}
	if e.ClusterSessionID, err = r.Int64(); err != nil {
		return e, err
	}
	if e.CorrelationID, err = r.Int64(); err != nil {
		return e, err
	}
	if e.Timestamp, err = r.Int64(); err != nil {
		return e, err
	}
	if e.ResponseStreamID, err = r.Int32(); err != nil {
		return e, err
	}
	if e.ResponseChannel, err = r.String(); err != nil {
		return e, err
	}
	if e.EncodedPrincipal, err = r.Bytes(); err != nil {
		return e, err
	}
	return e, nil
}

// SessionCloseEvent records a client session's termination.
type SessionCloseEvent struct {
	LeadershipTermID int64
	ClusterSessionID int64
	Timestamp        int64
	CloseReason      CloseReason
}

// SessionCloseEventBlockLength is the fixed-block size, used by callers
// that must reserve an exact-length claim before encoding in place.
const SessionCloseEventBlockLength = 8 + 8 + 8 + 4

// SessionCloseEventLength is the full record length (no variable tail).
const SessionCloseEventLength = MessageHeaderLength + SessionCloseEventBlockLength

// EncodeInto writes the event into a buffer the caller already claimed at
// the exact record length (via Publication.tryClaim), mirroring the
// original's wrapAndApplyHeader-then-commit pattern.
func (e SessionCloseEvent) EncodeInto(buf []byte) {
	w := &writer{buf: buf[:0]}
	MessageHeader{BlockLength: SessionCloseEventBlockLength, TemplateID: TemplateSessionCloseEvent, SchemaID: SchemaID, Version: SchemaVersion}.encode(w)
	w.Int64(e.LeadershipTermID)
	w.Int64(e.ClusterSessionID)
	w.Int64(e.Timestamp)
	w.Int32(int32(e.CloseReason))
}

// DecodeSessionCloseEvent parses a full record.
func DecodeSessionCloseEvent(buf []byte) (SessionCloseEvent, error) {
	var e SessionCloseEvent
	r := newReader(buf)
	if _, err := decodeMessageHeader(r); err != nil {
		return e, err
	}
	var err error
	if e.LeadershipTermID, err = r.Int64(); err != nil {
		return e, err
	}
	if e.ClusterSessionID, err = r.Int64(); err != nil {
		return e, err
	}
	if e.Timestamp, err = r.Int64(); err != nil {
		return e, err
	}
	reason, err := r.Int32()
	if err != nil {
		return e, err
	}
	e.CloseReason = CloseReason(reason)
	return e, nil
}

// TimerEvent records a timer's expiry into the log.
type TimerEvent struct {
	LeadershipTermID int64
	CorrelationID    int64
	Timestamp        int64
}

// TimerEventBlockLength is the fixed-block size.
const TimerEventBlockLength = 8 + 8 + 8

// TimerEventLength is the full record length.
const TimerEventLength = MessageHeaderLength + TimerEventBlockLength

func (e TimerEvent) EncodeInto(buf []byte) {
	w := &writer{buf: buf[:0]}
	MessageHeader{BlockLength: TimerEventBlockLength, TemplateID: TemplateTimerEvent, SchemaID: SchemaID, Version: SchemaVersion}.encode(w)
	w.Int64(e.LeadershipTermID)
	w.Int64(e.CorrelationID)
	w.Int64(e.Timestamp)
}

func DecodeTimerEvent(buf []byte) (TimerEvent, error) {
	var e TimerEvent
	r := newReader(buf)
	if _, err := decodeMessageHeader(r); err != nil {
		return e, err
	}
	var err error
	if e.LeadershipTermID, err = r.Int64(); err != nil {
		return e, err
	}
	if e.CorrelationID, err = r.Int64(); err != nil {
		return e, err
	}
	if e.Timestamp, err = r.Int64(); err != nil {
		return e, err
	}
	return e, nil
}

// ClusterActionRequest asks the cluster to take an administrative action.
// LogPosition is the position of the first byte past this record's own
// fragment — see pkg/publisher for how that is computed before the claim.
type ClusterActionRequest struct {
	LeadershipTermID int64
	LogPosition      int64
	Timestamp        int64
	Action           ClusterAction
}

const ClusterActionRequestBlockLength = 8 + 8 + 8 + 4

const ClusterActionRequestLength = MessageHeaderLength + ClusterActionRequestBlockLength

func (e ClusterActionRequest) EncodeInto(buf []byte) {
	w := &writer{buf: buf[:0]}
	MessageHeader{BlockLength: ClusterActionRequestBlockLength, TemplateID: TemplateClusterActionRequest, SchemaID: SchemaID, Version: SchemaVersion}.encode(w)
	w.Int64(e.LeadershipTermID)
	w.Int64(e.LogPosition)
	w.Int64(e.Timestamp)
	w.Int32(int32(e.Action))
}

func DecodeClusterActionRequest(buf []byte) (ClusterActionRequest, error) {
	var e ClusterActionRequest
	r := newReader(buf)
	if _, err := decodeMessageHeader(r); err != nil {
		return e, err
	}
	var err error
	if e.LeadershipTermID, err = r.Int64(); err != nil {
		return e, err
	}
	if e.LogPosition, err = r.Int64(); err != nil {
		return e, err
	}
	if e.Timestamp, err = r.Int64(); err != nil {
		return e, err
	}
	action, err := r.Int32()
	if err != nil {
		return e, err
	}
	e.Action = ClusterAction(action)
	return e, nil
}

// NewLeadershipTermEvent marks the start of a new leadership term.
type NewLeadershipTermEvent struct {
	LeadershipTermID    int64
	LogPosition         int64
	Timestamp           int64
	TermBaseLogPosition int64
	LeaderMemberID      int32
	LogSessionID        int32
	TimeUnit            int32
	AppVersion          int32
}

const NewLeadershipTermEventBlockLength = 8 + 8 + 8 + 8 + 4 + 4 + 4 + 4

const NewLeadershipTermEventLength = MessageHeaderLength + NewLeadershipTermEventBlockLength

func (e NewLeadershipTermEvent) EncodeInto(buf []byte) {
	w := &writer{buf: buf[:0]}
	MessageHeader{BlockLength: NewLeadershipTermEventBlockLength, TemplateID: TemplateNewLeadershipTermEvent, SchemaID: SchemaID, Version: SchemaVersion}.encode(w)
	w.Int64(e.LeadershipTermID)
	w.Int64(e.LogPosition)
	w.Int64(e.Timestamp)
	w.Int64(e.TermBaseLogPosition)
	w.Int32(e.LeaderMemberID)
	w.Int32(e.LogSessionID)
	w.Int32(e.TimeUnit)
	w.Int32(e.AppVersion)
}

func DecodeNewLeadershipTermEvent(buf []byte) (NewLeadershipTermEvent, error) {
	var e NewLeadershipTermEvent
	r := newReader(buf)
	if _, err := decodeMessageHeader(r); err != nil {
		return e, err
	}
	var err error
	if e.LeadershipTermID, err = r.Int64(); err != nil {
		return e, err
	}
	if e.LogPosition, err = r.Int64(); err != nil {
		return e, err
	}
	if e.Timestamp, err = r.Int64(); err != nil {
		return e, err
	}
	if e.TermBaseLogPosition, err = r.Int64(); err != nil {
		return e, err
	}
	if e.LeaderMemberID, err = r.Int32(); err != nil {
		return e, err
	}
	if e.LogSessionID, err = r.Int32(); err != nil {
		return e, err
	}
	if e.TimeUnit, err = r.Int32(); err != nil {
		return e, err
	}
	if e.AppVersion, err = r.Int32(); err != nil {
		return e, err
	}
	return e, nil
}

// MembershipChangeEvent records a cluster membership change. LogPosition
// is the position of the first byte past this record's own fragment,
// computed over the fragmented (possibly multi-frame) length.
type MembershipChangeEvent struct {
	LeadershipTermID int64
	LogPosition      int64
	Timestamp        int64
	LeaderMemberID   int32
	ClusterSize      int32
	ChangeType       ChangeType
	MemberID         int32
	ClusterMembers   string
}

const membershipChangeEventBlockLength = 8 + 8 + 8 + 4 + 4 + 4 + 4

// Encode appends the message header, fixed block, and clusterMembers tail.
func (e MembershipChangeEvent) Encode() []byte {
	w := newWriter(MessageHeaderLength + membershipChangeEventBlockLength + 4 + len(e.ClusterMembers))
	MessageHeader{BlockLength: membershipChangeEventBlockLength, TemplateID: TemplateMembershipChangeEvent, SchemaID: SchemaID, Version: SchemaVersion}.encode(w)
	w.Int64(e.LeadershipTermID)
	w.Int64(e.LogPosition)
	w.Int64(e.Timestamp)
	w.Int32(e.LeaderMemberID)
	w.Int32(e.ClusterSize)
	w.Int32(int32(e.ChangeType))
	w.Int32(e.MemberID)
	w.String(e.ClusterMembers)
	return w.buf
}

// EncodedLength returns the total on-wire length Encode would produce for
// this event's current ClusterMembers value, without allocating — the
// Log Publisher needs this ahead of encoding to compute the fragmented
// length and hence the logPosition field itself.
func (e MembershipChangeEvent) EncodedLength() int32 {
	return int32(MessageHeaderLength + membershipChangeEventBlockLength + 4 + len(e.ClusterMembers))
}

func DecodeMembershipChangeEvent(buf []byte) (MembershipChangeEvent, error) {
	var e MembershipChangeEvent
	r := newReader(buf)
	if _, err := decodeMessageHeader(r); err != nil {
		return e, err
	}
	var err error
	if e.LeadershipTermID, err = r.Int64(); err != nil {
		return e, err
	}
	if e.LogPosition, err = r.Int64(); err != nil {
		return e, err
	}
	if e.Timestamp, err = r.Int64(); err != nil {
		return e, err
	}
	if e.LeaderMemberID, err = r.Int32(); err != nil {
		return e, err
	}
	if e.ClusterSize, err = r.Int32(); err != nil {
		return e, err
	}
	changeType, err := r.Int32()
	if err != nil {
		return e, err
	}
	e.ChangeType = ChangeType(changeType)
	if e.MemberID, err = r.Int32(); err != nil {
		return e, err
	}
	if e.ClusterMembers, err = r.String(); err != nil {
		return e, err
	}
	return e, nil
}
