// Package call implements one-to-one call signaling between two users.
//
// A session is keyed by the unordered participant pair and a user takes
// part in at most one session at a time. The machine relays offer, answer,
// ICE, decline and end events, buffers candidates for a participant until
// its remote description is known, and tears sessions down on decline,
// end, transport failure, a stale transport or a participant leaving.
// Teardown is idempotent and cancels the session's timer before removal.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultGrace = 8 * time.Second

// Relay resolves and reaches live connections.
type Relay interface {
	IsOnline(domain.UserID) bool
	Send(domain.UserID, core.Frame) error
}

// PushQueue receives missed-call notifications for offline callees.
type PushQueue interface {
	Enqueue(domain.PushNotification)
}

type Option func(*Machine)

// WithGrace sets how long a disconnected transport may stay down.
func WithGrace(d time.Duration) Option {
	return func(m *Machine) { m.grace = d }
}

func WithPush(p PushQueue) Option {
	return func(m *Machine) { m.push = p }
}

// WithRecorder is called with the lock held for every torn down session.
func WithRecorder(fn func(domain.CallRecord)) Option {
	return func(m *Machine) { m.recorder = fn }
}

type Machine struct {
	relay    Relay
	blocks   core.BlockList
	push     PushQueue
	recorder func(domain.CallRecord)
	grace    time.Duration
	now      func() time.Time

	mu       sync.Mutex
	gen      uint64
	sessions map[pairKey]*Session
	byUser   map[domain.UserID]*Session
}

func NewMachine(relay Relay, blocks core.BlockList, opts ...Option) *Machine {
	m := &Machine{
		relay:    relay,
		blocks:   blocks,
		grace:    DefaultGrace,
		now:      time.Now,
		sessions: make(map[pairKey]*Session),
		byUser:   make(map[domain.UserID]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func logger(from, to domain.UserID) zerolog.Logger {
	return log.With().Str("module", "app.call").Str("from", string(from)).Str("to", string(to)).Logger()
}

// Offer starts a session from caller to callee. Unreachable, blocked and
// busy callees are answered on the caller's connection and no session is
// created; the returned error says which.
func (m *Machine) Offer(ctx context.Context, from, to domain.UserID, offer json.RawMessage) error {
	if from == to {
		return domain.ErrSelfCall
	}
	if err := ValidateDescription(offer, webrtc.SDPTypeOffer); err != nil {
		return err
	}
	l := logger(from, to)

	if !m.relay.IsOnline(to) {
		m.send(from, domain.EventCallUnavailable, UnavailablePayload{ToUserID: to})
		m.missed(from, to)
		l.Info().Msg("callee unavailable")
		return domain.ErrUnavailable
	}

	// the block list lives in storage; never consult it under the lock
	if m.blocks != nil {
		blocked, err := m.blocks.IsBlocked(ctx, to, from)
		if err != nil {
			m.send(from, domain.EventCallUnavailable, UnavailablePayload{ToUserID: to})
			return fmt.Errorf("block lookup: %w", err)
		}
		if blocked {
			m.send(from, domain.EventCallDecline, DeclinePayload{FromUserID: to, Reason: domain.ReasonBlocked})
			l.Info().Msg("caller blocked")
			return domain.ErrBlocked
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byUser[from] != nil || m.byUser[to] != nil {
		m.send(from, domain.EventCallDecline, DeclinePayload{FromUserID: to, Reason: domain.ReasonBusy})
		l.Info().Msg("busy")
		return domain.ErrBusy
	}

	s := newSession(from, to, m.now())
	m.sessions[s.key] = s
	m.byUser[from] = s
	m.byUser[to] = s

	if err := m.send(to, domain.EventCallOffer, OfferPayload{FromUserID: from, Offer: offer}); err != nil {
		m.teardown(s, domain.OutcomeUndelivered)
		m.send(from, domain.EventCallUnavailable, UnavailablePayload{ToUserID: to})
		l.Info().Err(err).Msg("offer undelivered")
		return domain.ErrUnavailable
	}
	l.Info().Str("session", s.ID).Msg("offer relayed")
	return nil
}

// Answer is the callee accepting. The caller side must still be waiting for
// this very pair, otherwise the answer is dropped.
func (m *Machine) Answer(from, to domain.UserID, answer json.RawMessage) error {
	if err := ValidateDescription(answer, webrtc.SDPTypeAnswer); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[keyOf(from, to)]
	if s == nil || s.calleeID != from {
		return domain.ErrNoSession
	}
	callee, caller := s.legs[from], s.legs[to]
	if callee.state != domain.CallIncoming || caller.state != domain.CallCalling {
		return fmt.Errorf("%w: answer in state %s/%s", domain.ErrNoSession, caller.state, callee.state)
	}

	callee.state = domain.CallConnecting
	if err := m.send(to, domain.EventCallAnswer, AnswerPayload{FromUserID: from, Answer: answer}); err != nil {
		m.send(from, domain.EventCallEnd, EndPayload{FromUserID: to})
		m.teardown(s, domain.OutcomeFailed)
		return domain.ErrUnavailable
	}
	s.answeredAt = m.now()
	caller.state = domain.CallInCall
	callee.state = domain.CallInCall

	// both sides now have their remote description
	m.flush(s, caller)
	m.flush(s, callee)
	l := logger(from, to)
	l.Info().Str("session", s.ID).Msg("answer relayed")
	return nil
}

// ICE relays a candidate, or buffers it while the recipient cannot apply it.
func (m *Machine) ICE(from, to domain.UserID, candidate json.RawMessage) error {
	if err := ValidateCandidate(candidate); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[keyOf(from, to)]
	if s == nil {
		return domain.ErrNoSession
	}
	if s.legs[to].pending.Offer(candidate) {
		return nil
	}
	return m.send(to, domain.EventCallICE, ICEPayload{FromUserID: from, Candidate: candidate})
}

// flush hands a leg its buffered candidates in arrival order.
func (m *Machine) flush(s *Session, l *leg) {
	from := s.peer(l.user)
	for _, c := range l.pending.Flush() {
		if err := m.send(l.user, domain.EventCallICE, ICEPayload{FromUserID: from, Candidate: c}); err != nil {
			return
		}
	}
}

// Decline is relayed to the other side and ends the session.
func (m *Machine) Decline(from, to domain.UserID, reason domain.DeclineReason) error {
	if !reason.Valid() {
		return fmt.Errorf("%w: decline reason %q", domain.ErrMalformed, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[keyOf(from, to)]
	if s == nil {
		return domain.ErrNoSession
	}
	m.send(to, domain.EventCallDecline, DeclinePayload{FromUserID: from, Reason: reason})
	m.teardown(s, domain.OutcomeDeclined)
	return nil
}

// End is relayed to the other side and ends the session in any state.
func (m *Machine) End(from, to domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[keyOf(from, to)]
	if s == nil {
		return domain.ErrNoSession
	}
	m.send(to, domain.EventCallEnd, EndPayload{FromUserID: from})
	outcome := domain.OutcomeCompleted
	switch {
	case !s.answeredAt.IsZero():
	case from == s.callerID:
		outcome = domain.OutcomeCancelled
	default:
		outcome = domain.OutcomeDeclined
	}
	m.teardown(s, outcome)
	return nil
}

// Transport applies a client-reported ICE connection state. A disconnect
// arms the grace timer, recovery cancels it, failure ends the call now.
func (m *Machine) Transport(from, to domain.UserID, state string) error {
	st, err := ParseTransportState(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[keyOf(from, to)]
	if s == nil {
		return domain.ErrNoSession
	}
	l := logger(from, to).With().Str("session", s.ID).Str("ice_state", st.String()).Logger()

	switch st {
	case webrtc.ICEConnectionStateDisconnected:
		if s.staleTimer == nil {
			m.armStale(s)
			l.Info().Dur("grace", m.grace).Msg("transport disconnected, grace armed")
		}
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		if s.staleTimer != nil {
			m.disarmStale(s)
			l.Info().Msg("transport recovered")
		}
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		m.send(to, domain.EventCallEnd, EndPayload{FromUserID: from})
		m.send(from, domain.EventCallEnd, EndPayload{FromUserID: to})
		m.teardown(s, domain.OutcomeFailed)
		l.Info().Msg("transport failed")
	}
	return nil
}

func (m *Machine) armStale(s *Session) {
	m.gen++
	gen := m.gen
	s.staleGen = gen
	s.staleTimer = time.AfterFunc(m.grace, func() { m.expireStale(s, gen) })
}

func (m *Machine) disarmStale(s *Session) {
	if s.staleTimer != nil {
		s.staleTimer.Stop()
		s.staleTimer = nil
	}
	s.staleGen = 0
}

// expireStale runs on the timer goroutine. The generation check discards
// callbacks from a timer that was cancelled or belongs to a dead session.
func (m *Machine) expireStale(s *Session, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ended || s.staleGen != gen || m.sessions[s.key] != s {
		return
	}
	log.Info().Str("module", "app.call").Str("session", s.ID).Msg("transport stale, ending call")
	m.send(s.callerID, domain.EventCallEnd, EndPayload{FromUserID: s.calleeID})
	m.send(s.calleeID, domain.EventCallEnd, EndPayload{FromUserID: s.callerID})
	m.teardown(s, domain.OutcomeStale)
}

// Drop ends whatever session the user is in, with a best-effort end to the
// counterpart. Used when the user's connection goes away or is replaced.
func (m *Machine) Drop(user domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byUser[user]
	if s == nil {
		return false
	}
	m.send(s.peer(user), domain.EventCallEnd, EndPayload{FromUserID: user})
	m.teardown(s, domain.OutcomeDropped)
	return true
}

// teardown must be called with mu held. Safe to call more than once.
func (m *Machine) teardown(s *Session, outcome domain.CallOutcome) {
	if s.ended {
		return
	}
	s.ended = true
	m.disarmStale(s)
	if m.sessions[s.key] == s {
		delete(m.sessions, s.key)
	}
	for u, l := range s.legs {
		if m.byUser[u] == s {
			delete(m.byUser, u)
		}
		l.state = domain.CallEnded
		l.pending.Flush()
	}
	rec := s.record(outcome, m.now())
	log.Info().
		Str("module", "app.call").
		Str("session", s.ID).
		Str("caller", string(rec.CallerID)).
		Str("callee", string(rec.CalleeID)).
		Str("outcome", string(outcome)).
		Dur("duration", rec.Duration()).
		Msg("session ended")
	if m.recorder != nil {
		m.recorder(rec)
	}
}

func (m *Machine) missed(caller, callee domain.UserID) {
	if m.push == nil {
		return
	}
	m.push.Enqueue(domain.PushNotification{
		UserID: callee,
		Kind:   domain.PushMissedCall,
		Title:  "Missed call",
		Data:   map[string]string{"fromUserId": string(caller)},
	})
}

func (m *Machine) send(to domain.UserID, event string, payload any) error {
	f, err := core.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.call").Str("event", event).Msg("encode")
		return err
	}
	return m.relay.Send(to, f)
}

// View returns the user's session as seen from their side.
func (m *Machine) View(user domain.UserID) (View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byUser[user]
	if s == nil {
		return View{State: domain.CallIdle}, false
	}
	return s.viewFor(user), true
}

func (m *Machine) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
