// Package publisher implements the Log Publisher: the leader-side
// encoder that appends consensus events into a single ordered
// publication stream.
package publisher

import (
	"fmt"

	"github.com/novatechflow/clusterlog/pkg/metrics"
	"github.com/novatechflow/clusterlog/pkg/transport"
	"github.com/novatechflow/clusterlog/pkg/wire"
)

// sendAttempts bounds how many times an append retries a retryable
// transport result before giving up, per spec.md §4.1.
const sendAttempts = 3

// ClusterSession is the subset of client-session state the publisher
// needs to encode SessionOpenEvent/SessionCloseEvent records.
type ClusterSession struct {
	ID               int64
	CorrelationID    int64
	ResponseStreamID int32
	ResponseChannel  string
	EncodedPrincipal []byte
	CloseReason      wire.CloseReason
}

// LogPublisher is a stateful encoder bound to at most one transport.Publication
// at a time. It owns one reusable scratch buffer, a pre-wrapped
// session-header template rewritten in place on every AppendMessage call.
// It keeps no buffer for variable-length events: AppendSessionOpen and
// AppendMembershipChangeEvent encode into a newly allocated buffer on
// every attempt.
type LogPublisher struct {
	publication transport.Publication
	metrics     *metrics.Metrics

	sessionHeaderBuffer []byte
}

// New constructs an unbound LogPublisher. m may be nil to disable metrics.
func New(m *metrics.Metrics) *LogPublisher {
	return &LogPublisher{
		sessionHeaderBuffer: wire.EncodeSessionMessageHeaderTemplate(),
		metrics:             m,
	}
}

// Bind installs the transport this publisher appends to, replacing any
// previously bound publication without closing it.
func (p *LogPublisher) Bind(publication transport.Publication) {
	p.publication = publication
}

// Disconnect releases the bound transport. A second call is a no-op.
func (p *LogPublisher) Disconnect() {
	if p.publication == nil {
		return
	}
	_ = p.publication.Close()
	p.publication = nil
}

// Position returns the transport's current position, or 0 when unbound.
func (p *LogPublisher) Position() int64 {
	if p.publication == nil {
		return 0
	}
	return p.publication.Position()
}

// SessionID delegates to the bound transport; it is the caller's
// responsibility to only call this while bound.
func (p *LogPublisher) SessionID() int32 {
	return p.publication.SessionID()
}

// AddPassiveFollower registers a multi-destination-cast follower endpoint.
// No-op when unbound.
func (p *LogPublisher) AddPassiveFollower(endpoint string) error {
	if p.publication == nil {
		return nil
	}
	return p.publication.AddDestination("aeron:udp?endpoint=" + endpoint)
}

// RemovePassiveFollower unregisters a follower endpoint previously added
// with AddPassiveFollower. No-op when unbound.
func (p *LogPublisher) RemovePassiveFollower(endpoint string) error {
	if p.publication == nil {
		return nil
	}
	return p.publication.RemoveDestination("aeron:udp?endpoint=" + endpoint)
}

// checkResult classifies a negative transport result: fatal codes raise
// immediately, everything else is eligible for the caller's retry loop.
func checkResult(code transport.ResultCode) error {
	if code.IsFatal() {
		return fmt.Errorf("publisher: %w: result=%d", transport.ErrFatalTransport, code)
	}
	return nil
}

func (p *LogPublisher) recordAttempt(kind string) {
	if p.metrics != nil {
		p.metrics.PublisherAttempts.WithLabelValues(kind).Inc()
	}
}

func (p *LogPublisher) recordRetry(kind string) {
	if p.metrics != nil {
		p.metrics.PublisherRetries.WithLabelValues(kind).Inc()
	}
}

func (p *LogPublisher) recordFatal(kind string) {
	if p.metrics != nil {
		p.metrics.PublisherFatals.WithLabelValues(kind).Inc()
	}
}

// AppendMessage fills the session-header scratch buffer in place and
// gather-offers it together with the caller's opaque payload.
func (p *LogPublisher) AppendMessage(leadershipTermID, clusterSessionID, timestamp int64, payload []byte) (transport.ResultCode, error) {
	const kind = "session_message"
	wire.PutSessionMessageHeaderFields(p.sessionHeaderBuffer, leadershipTermID, clusterSessionID, timestamp)

	var result transport.ResultCode
	for attempts := sendAttempts; attempts > 0; attempts-- {
		p.recordAttempt(kind)
		result = p.publication.Offer(p.sessionHeaderBuffer, payload, nil)
		if result > 0 {
			return result, nil
		}
		if err := checkResult(result); err != nil {
			p.recordFatal(kind)
			return result, err
		}
		p.recordRetry(kind)
	}
	return result, nil
}

// AppendSessionOpen encodes a SessionOpenEvent into a newly allocated
// buffer and offers it as a single buffer.
func (p *LogPublisher) AppendSessionOpen(session ClusterSession, leadershipTermID, timestamp int64) (transport.ResultCode, error) {
	const kind = "session_open_event"
	event := wire.SessionOpenEvent{
		LeadershipTermID: leadershipTermID,
		ClusterSessionID: session.ID,
		CorrelationID:    session.CorrelationID,
		Timestamp:        timestamp,
		ResponseStreamID: session.ResponseStreamID,
		ResponseChannel:  session.ResponseChannel,
		EncodedPrincipal: session.EncodedPrincipal,
	}
	buf := event.Encode()

	var result transport.ResultCode
	for attempts := sendAttempts; attempts > 0; attempts-- {
		p.recordAttempt(kind)
		result = p.publication.OfferSingle(buf, nil)
		if result > 0 {
			return result, nil
		}
		if err := checkResult(result); err != nil {
			p.recordFatal(kind)
			return result, err
		}
		p.recordRetry(kind)
	}
	return result, nil
}

// AppendSessionClose claims the exact record length, encodes in place,
// and commits. Returns whether the append succeeded within the retry budget.
func (p *LogPublisher) AppendSessionClose(session ClusterSession, leadershipTermID, timestamp int64) (bool, error) {
	const kind = "session_close_event"
	event := wire.SessionCloseEvent{
		LeadershipTermID: leadershipTermID,
		ClusterSessionID: session.ID,
		Timestamp:        timestamp,
		CloseReason:      session.CloseReason,
	}

	for attempts := sendAttempts; attempts > 0; attempts-- {
		p.recordAttempt(kind)
		claim, result := p.publication.TryClaim(wire.SessionCloseEventLength)
		if result > 0 {
			event.EncodeInto(claim.Buffer())
			claim.Commit()
			return true, nil
		}
		if err := checkResult(result); err != nil {
			p.recordFatal(kind)
			return false, err
		}
		p.recordRetry(kind)
	}
	return false, nil
}

// AppendTimer claims, encodes, and commits a TimerEvent.
func (p *LogPublisher) AppendTimer(correlationID, leadershipTermID, timestamp int64) (transport.ResultCode, error) {
	const kind = "timer_event"
	event := wire.TimerEvent{LeadershipTermID: leadershipTermID, CorrelationID: correlationID, Timestamp: timestamp}

	var result transport.ResultCode
	for attempts := sendAttempts; attempts > 0; attempts-- {
		p.recordAttempt(kind)
		claim, claimResult := p.publication.TryClaim(wire.TimerEventLength)
		result = claimResult
		if result > 0 {
			event.EncodeInto(claim.Buffer())
			claim.Commit()
			return result, nil
		}
		if err := checkResult(result); err != nil {
			p.recordFatal(kind)
			return result, err
		}
		p.recordRetry(kind)
	}
	return result, nil
}

// AppendClusterAction computes the self-referential log-position field
// from the pre-claim position before claiming, since the record cannot
// be claim-then-patched for a field that describes its own end offset.
func (p *LogPublisher) AppendClusterAction(leadershipTermID, timestamp int64, action wire.ClusterAction) (bool, error) {
	const kind = "cluster_action_request"
	fragmentLength := wire.Align(wire.HeaderLength + wire.ClusterActionRequestLength)

	for attempts := sendAttempts; attempts > 0; attempts-- {
		p.recordAttempt(kind)
		logPosition := p.publication.Position() + int64(fragmentLength)
		claim, result := p.publication.TryClaim(wire.ClusterActionRequestLength)
		if result > 0 {
			event := wire.ClusterActionRequest{
				LeadershipTermID: leadershipTermID,
				LogPosition:      logPosition,
				Timestamp:        timestamp,
				Action:           action,
			}
			event.EncodeInto(claim.Buffer())
			claim.Commit()
			return true, nil
		}
		if err := checkResult(result); err != nil {
			p.recordFatal(kind)
			return false, err
		}
		p.recordRetry(kind)
	}
	return false, nil
}

// NewLeadershipTermParams groups the fixed fields of a
// NewLeadershipTermEvent, to keep AppendNewLeadershipTermEvent's
// signature from growing past what gofmt can keep on one line.
type NewLeadershipTermParams struct {
	LeadershipTermID    int64
	Timestamp           int64
	TermBaseLogPosition int64
	LeaderMemberID      int32
	LogSessionID        int32
	TimeUnit            int32
	AppVersion          int32
}

// AppendNewLeadershipTermEvent follows the same self-referential
// log-position pattern as AppendClusterAction.
func (p *LogPublisher) AppendNewLeadershipTermEvent(params NewLeadershipTermParams) (bool, error) {
	const kind = "new_leadership_term_event"
	fragmentLength := wire.Align(wire.HeaderLength + wire.NewLeadershipTermEventLength)

	for attempts := sendAttempts; attempts > 0; attempts-- {
		p.recordAttempt(kind)
		logPosition := p.publication.Position() + int64(fragmentLength)
		claim, result := p.publication.TryClaim(wire.NewLeadershipTermEventLength)
		if result > 0 {
			event := wire.NewLeadershipTermEvent{
				LeadershipTermID:    params.LeadershipTermID,
				LogPosition:         logPosition,
				Timestamp:           params.Timestamp,
				TermBaseLogPosition: params.TermBaseLogPosition,
				LeaderMemberID:      params.LeaderMemberID,
				LogSessionID:        params.LogSessionID,
				TimeUnit:            params.TimeUnit,
				AppVersion:          params.AppVersion,
			}
			event.EncodeInto(claim.Buffer())
			claim.Commit()
			return true, nil
		}
		if err := checkResult(result); err != nil {
			p.recordFatal(kind)
			return false, err
		}
		p.recordRetry(kind)
	}
	return false, nil
}

// MembershipChangeParams groups the fields of a MembershipChangeEvent.
type MembershipChangeParams struct {
	LeadershipTermID int64
	Timestamp        int64
	LeaderMemberID   int32
	ClusterSize      int32
	ChangeType       wire.ChangeType
	MemberID         int32
	ClusterMembers   string
}

// AppendMembershipChangeEvent is variable-length: the record may span
// multiple frames, so the log-position field is computed from the
// fragmented length given the transport's current maxPayloadLength,
// exactly as spec.md §4.1 describes.
func (p *LogPublisher) AppendMembershipChangeEvent(params MembershipChangeParams) (transport.ResultCode, error) {
	const kind = "membership_change_event"

	var result transport.ResultCode
	for attempts := sendAttempts; attempts > 0; attempts-- {
		p.recordAttempt(kind)
		event := wire.MembershipChangeEvent{
			LeadershipTermID: params.LeadershipTermID,
			Timestamp:        params.Timestamp,
			LeaderMemberID:   params.LeaderMemberID,
			ClusterSize:      params.ClusterSize,
			ChangeType:       params.ChangeType,
			MemberID:         params.MemberID,
			ClusterMembers:   params.ClusterMembers,
		}
		fragmentedLength := wire.FragmentedLength(event.EncodedLength(), p.publication.MaxPayloadLength())
		event.LogPosition = p.publication.Position() + int64(fragmentedLength)

		buf := event.Encode()
		result = p.publication.OfferSingle(buf, nil)
		if result > 0 {
			return result, nil
		}
		if err := checkResult(result); err != nil {
			p.recordFatal(kind)
			return result, err
		}
		p.recordRetry(kind)
	}
	return result, nil
}
