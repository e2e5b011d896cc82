package call

import (
	"encoding/json"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/google/uuid"
)

// pairKey is the unordered participant pair.
type pairKey struct {
	a, b domain.UserID
}

func keyOf(x, y domain.UserID) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

// leg is one participant's side of a session. pending holds candidates
// addressed to this participant until its remote description is known.
type leg struct {
	user      domain.UserID
	state     domain.CallState
	direction domain.CallDirection
	pending   core.PendingQueue[json.RawMessage]
}

// Session is a one-to-one call negotiation. It is only touched with the
// machine lock held.
type Session struct {
	ID         string
	key        pairKey
	callerID   domain.UserID
	calleeID   domain.UserID
	legs       map[domain.UserID]*leg
	startedAt  time.Time
	answeredAt time.Time

	staleTimer *time.Timer
	staleGen   uint64
	ended      bool
}

func newSession(caller, callee domain.UserID, now time.Time) *Session {
	return &Session{
		ID:       uuid.NewString(),
		key:      keyOf(caller, callee),
		callerID: caller,
		calleeID: callee,
		legs: map[domain.UserID]*leg{
			caller: {user: caller, state: domain.CallCalling, direction: domain.DirectionOutgoing},
			callee: {user: callee, state: domain.CallIncoming, direction: domain.DirectionIncoming},
		},
		startedAt: now,
	}
}

func (s *Session) peer(u domain.UserID) domain.UserID {
	if u == s.callerID {
		return s.calleeID
	}
	return s.callerID
}

func (s *Session) record(outcome domain.CallOutcome, now time.Time) domain.CallRecord {
	return domain.CallRecord{
		CallerID:   s.callerID,
		CalleeID:   s.calleeID,
		StartedAt:  s.startedAt,
		AnsweredAt: s.answeredAt,
		EndedAt:    now,
		Outcome:    outcome,
	}
}

// View is a read-only copy of a session from one participant's side.
type View struct {
	SessionID  string
	Peer       domain.UserID
	State      domain.CallState
	Direction  domain.CallDirection
	StartedAt  time.Time
	AnsweredAt time.Time
	Stale      bool
	Pending    int
}

func (s *Session) viewFor(u domain.UserID) View {
	l := s.legs[u]
	return View{
		SessionID:  s.ID,
		Peer:       s.peer(u),
		State:      l.state,
		Direction:  l.direction,
		StartedAt:  s.startedAt,
		AnsweredAt: s.answeredAt,
		Stale:      s.staleTimer != nil,
		Pending:    l.pending.Len(),
	}
}

// Outbound payloads. Inbound events carry toUserId, outbound fromUserId.

type OfferPayload struct {
	FromUserID domain.UserID   `json:"fromUserId"`
	Offer      json.RawMessage `json:"offer"`
}

type AnswerPayload struct {
	FromUserID domain.UserID   `json:"fromUserId"`
	Answer     json.RawMessage `json:"answer"`
}

type ICEPayload struct {
	FromUserID domain.UserID   `json:"fromUserId"`
	Candidate  json.RawMessage `json:"candidate"`
}

type DeclinePayload struct {
	FromUserID domain.UserID        `json:"fromUserId"`
	Reason     domain.DeclineReason `json:"reason"`
}

type EndPayload struct {
	FromUserID domain.UserID `json:"fromUserId"`
}

type UnavailablePayload struct {
	ToUserID domain.UserID `json:"toUserId"`
}
