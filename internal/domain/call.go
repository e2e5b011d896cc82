package domain

import "time"

// CallState is the state of one participant's leg of a call.
type CallState string

const (
	CallIdle       CallState = "idle"
	CallCalling    CallState = "calling"
	CallIncoming   CallState = "incoming"
	CallConnecting CallState = "connecting"
	CallInCall     CallState = "in-call"
	CallEnded      CallState = "ended"
)

type CallDirection string

const (
	DirectionOutgoing CallDirection = "outgoing"
	DirectionIncoming CallDirection = "incoming"
)

type DeclineReason string

const (
	ReasonDeclined DeclineReason = "declined"
	ReasonBusy     DeclineReason = "busy"
	ReasonBlocked  DeclineReason = "blocked"
)

func (r DeclineReason) Valid() bool {
	switch r {
	case ReasonDeclined, ReasonBusy, ReasonBlocked:
		return true
	}
	return false
}

// CallOutcome summarises how a session left the table.
type CallOutcome string

const (
	OutcomeCompleted   CallOutcome = "completed"
	OutcomeDeclined    CallOutcome = "declined"
	OutcomeCancelled   CallOutcome = "cancelled"
	OutcomeDropped     CallOutcome = "dropped"
	OutcomeStale       CallOutcome = "stale"
	OutcomeFailed      CallOutcome = "failed"
	OutcomeUndelivered CallOutcome = "undelivered"
)

// CallRecord is emitted once per torn down session.
type CallRecord struct {
	CallerID   UserID
	CalleeID   UserID
	StartedAt  time.Time
	AnsweredAt time.Time
	EndedAt    time.Time
	Outcome    CallOutcome
}

// Duration is zero for calls that never reached in-call.
func (r CallRecord) Duration() time.Duration {
	if r.AnsweredAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.AnsweredAt)
}
