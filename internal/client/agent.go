// Package client is the calling side of the protocol: a websocket signal
// client and a call agent that drives one media connection through the
// call states.
package client

import (
	"errors"
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

var (
	ErrBusy      = errors.New("already in a call")
	ErrNoCall    = errors.New("no call in that state")
	ErrWrongPeer = errors.New("event from a different peer")
)

// Signaler sends one event to the server.
type Signaler interface {
	Send(eventType string, payload any) error
}

// MediaFactory opens a fresh media connection for a call with peer.
type MediaFactory func(peer domain.UserID) (core.MediaConnection, error)

// Summary describes a finished call.
type Summary struct {
	Peer      domain.UserID
	Direction domain.CallDirection
	CreatedAt time.Time
	// StartedAt is when media first connected; zero if it never did.
	StartedAt time.Time
	EndedAt   time.Time
	Reason    string
}

func (s Summary) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

type Option func(*CallAgent)

func WithGrace(d time.Duration) Option { return func(a *CallAgent) { a.grace = d } }

// WithStateHook is called with the agent lock held and must not call back
// into the agent.
func WithStateHook(fn func(domain.CallState, domain.UserID)) Option {
	return func(a *CallAgent) { a.onState = fn }
}

// WithEndHook is called after a call is torn down, outside the lock.
func WithEndHook(fn func(Summary)) Option { return func(a *CallAgent) { a.onEnd = fn } }

// CallAgent owns at most one call at a time.
type CallAgent struct {
	sig      Signaler
	newMedia MediaFactory
	grace    time.Duration
	onState  func(domain.CallState, domain.UserID)
	onEnd    func(Summary)
	now      func() time.Time
	logger   zerolog.Logger

	mu          sync.Mutex
	state       domain.CallState
	peer        domain.UserID
	direction   domain.CallDirection
	media       core.MediaConnection
	remoteOffer *webrtc.SessionDescription
	createdAt   time.Time
	startedAt   time.Time
	gen         uint64
	graceTimer  *time.Timer
}

func NewCallAgent(self domain.UserID, sig Signaler, newMedia MediaFactory, opts ...Option) *CallAgent {
	a := &CallAgent{
		sig:      sig,
		newMedia: newMedia,
		grace:    DefaultGrace,
		now:      time.Now,
		logger:   log.With().Str("module", "client.agent").Str("user", string(self)).Logger(),
		state:    domain.CallIdle,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// outbound payloads
type (
	offerOut struct {
		ToUserID domain.UserID             `json:"toUserId"`
		Offer    webrtc.SessionDescription `json:"offer"`
	}
	answerOut struct {
		ToUserID domain.UserID             `json:"toUserId"`
		Answer   webrtc.SessionDescription `json:"answer"`
	}
	iceOut struct {
		ToUserID  domain.UserID           `json:"toUserId"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	declineOut struct {
		ToUserID domain.UserID        `json:"toUserId"`
		Reason   domain.DeclineReason `json:"reason"`
	}
	peerOut struct {
		ToUserID domain.UserID `json:"toUserId"`
	}
	transportOut struct {
		ToUserID domain.UserID `json:"toUserId"`
		State    string        `json:"state"`
	}
)

// inbound payloads
type (
	offerIn struct {
		FromUserID domain.UserID             `json:"fromUserId"`
		Offer      webrtc.SessionDescription `json:"offer"`
	}
	answerIn struct {
		FromUserID domain.UserID             `json:"fromUserId"`
		Answer     webrtc.SessionDescription `json:"answer"`
	}
	iceIn struct {
		FromUserID domain.UserID           `json:"fromUserId"`
		Candidate  webrtc.ICECandidateInit `json:"candidate"`
	}
	fromIn struct {
		FromUserID domain.UserID        `json:"fromUserId"`
		ToUserID   domain.UserID        `json:"toUserId"`
		Reason     domain.DeclineReason `json:"reason"`
	}
)

// finish carries work that must run after the lock is released.
type finish struct {
	media   core.MediaConnection
	summary *Summary
	onEnd   func(Summary)
}

func (f finish) run() {
	if f.media != nil {
		f.media.Close()
	}
	if f.summary != nil && f.onEnd != nil {
		f.onEnd(*f.summary)
	}
}

func (a *CallAgent) State() (domain.CallState, domain.UserID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.peer
}

// Call starts an outgoing call to peer.
func (a *CallAgent) Call(peer domain.UserID) error {
	a.mu.Lock()
	fin, err := a.callLocked(peer)
	a.mu.Unlock()
	fin.run()
	return err
}

func (a *CallAgent) callLocked(peer domain.UserID) (finish, error) {
	if a.state != domain.CallIdle {
		return finish{}, ErrBusy
	}
	if err := a.openLocked(peer, domain.DirectionOutgoing); err != nil {
		return finish{}, err
	}
	offer, err := a.media.CreateOffer()
	if err != nil {
		return a.endLocked("offer failed"), fmt.Errorf("create offer: %w", err)
	}
	a.setState(domain.CallCalling)
	if err := a.sig.Send(domain.EventCallOffer, offerOut{ToUserID: peer, Offer: *offer}); err != nil {
		return a.endLocked("signal failed"), fmt.Errorf("send offer: %w", err)
	}
	return finish{}, nil
}

// openLocked starts a new call generation with a fresh media connection.
func (a *CallAgent) openLocked(peer domain.UserID, dir domain.CallDirection) error {
	media, err := a.newMedia(peer)
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	a.gen++
	gen := a.gen
	a.peer = peer
	a.direction = dir
	a.media = media
	a.createdAt = a.now()
	a.startedAt = time.Time{}
	a.remoteOffer = nil

	media.OnICECandidate(func(ci webrtc.ICECandidateInit) { a.localCandidate(gen, ci) })
	media.OnICEStateChange(func(st webrtc.ICEConnectionState) { a.transport(gen, st) })
	return nil
}

// Accept answers the pending incoming call.
func (a *CallAgent) Accept() error {
	a.mu.Lock()
	fin, err := a.acceptLocked()
	a.mu.Unlock()
	fin.run()
	return err
}

func (a *CallAgent) acceptLocked() (finish, error) {
	if a.state != domain.CallIncoming || a.remoteOffer == nil {
		return finish{}, ErrNoCall
	}
	answer, err := a.media.AcceptOffer(*a.remoteOffer)
	if err != nil {
		a.sig.Send(domain.EventCallEnd, peerOut{ToUserID: a.peer})
		return a.endLocked("answer failed"), fmt.Errorf("accept offer: %w", err)
	}
	a.setState(domain.CallConnecting)
	if err := a.sig.Send(domain.EventCallAnswer, answerOut{ToUserID: a.peer, Answer: *answer}); err != nil {
		return a.endLocked("signal failed"), fmt.Errorf("send answer: %w", err)
	}
	return finish{}, nil
}

// Decline rejects the pending incoming call.
func (a *CallAgent) Decline(reason domain.DeclineReason) error {
	a.mu.Lock()
	if a.state != domain.CallIncoming {
		a.mu.Unlock()
		return ErrNoCall
	}
	err := a.sig.Send(domain.EventCallDecline, declineOut{ToUserID: a.peer, Reason: reason})
	fin := a.endLocked("declined")
	a.mu.Unlock()
	fin.run()
	return err
}

// Hangup ends the call in any non-idle state.
func (a *CallAgent) Hangup() error {
	a.mu.Lock()
	if a.state == domain.CallIdle {
		a.mu.Unlock()
		return ErrNoCall
	}
	err := a.sig.Send(domain.EventCallEnd, peerOut{ToUserID: a.peer})
	fin := a.endLocked("hangup")
	a.mu.Unlock()
	fin.run()
	return err
}

// HandleEvent applies one call event from the server. Non-call events are
// ignored.
func (a *CallAgent) HandleEvent(env core.Envelope) error {
	a.mu.Lock()
	fin, err := a.handleLocked(env)
	a.mu.Unlock()
	fin.run()
	return err
}

func (a *CallAgent) handleLocked(env core.Envelope) (finish, error) {
	switch env.Type {
	case domain.EventCallOffer:
		var p offerIn
		if err := decodePayload(env, &p); err != nil {
			return finish{}, err
		}
		if a.state != domain.CallIdle {
			a.logger.Info().Str("from", string(p.FromUserID)).Msg("busy, declining offer")
			return finish{}, a.sig.Send(domain.EventCallDecline, declineOut{ToUserID: p.FromUserID, Reason: domain.ReasonBusy})
		}
		if err := a.openLocked(p.FromUserID, domain.DirectionIncoming); err != nil {
			return finish{}, err
		}
		offer := p.Offer
		a.remoteOffer = &offer
		a.setState(domain.CallIncoming)
		return finish{}, nil

	case domain.EventCallAnswer:
		var p answerIn
		if err := decodePayload(env, &p); err != nil {
			return finish{}, err
		}
		if a.state != domain.CallCalling {
			return finish{}, ErrNoCall
		}
		if p.FromUserID != a.peer {
			return finish{}, ErrWrongPeer
		}
		if err := a.media.ApplyAnswer(p.Answer); err != nil {
			a.sig.Send(domain.EventCallEnd, peerOut{ToUserID: a.peer})
			return a.endLocked("bad answer"), fmt.Errorf("apply answer: %w", err)
		}
		a.setState(domain.CallConnecting)
		return finish{}, nil

	case domain.EventCallICE:
		var p iceIn
		if err := decodePayload(env, &p); err != nil {
			return finish{}, err
		}
		if a.media == nil || p.FromUserID != a.peer {
			return finish{}, ErrWrongPeer
		}
		// the media connection queues it until the remote description is set
		return finish{}, a.media.AddICECandidate(p.Candidate)

	case domain.EventCallDecline, domain.EventCallEnd, domain.EventCallUnavailable:
		var p fromIn
		if err := decodePayload(env, &p); err != nil {
			return finish{}, err
		}
		who := p.FromUserID
		if env.Type == domain.EventCallUnavailable {
			who = p.ToUserID
		}
		if a.state == domain.CallIdle || who != a.peer {
			return finish{}, ErrWrongPeer
		}
		reason := "ended by peer"
		switch env.Type {
		case domain.EventCallDecline:
			reason = "declined: " + string(p.Reason)
		case domain.EventCallUnavailable:
			reason = "unavailable"
		}
		return a.endLocked(reason), nil
	}
	return finish{}, nil
}

func (a *CallAgent) localCandidate(gen uint64, ci webrtc.ICECandidateInit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen || a.state == domain.CallIdle {
		return
	}
	if err := a.sig.Send(domain.EventCallICE, iceOut{ToUserID: a.peer, Candidate: ci}); err != nil {
		a.logger.Warn().Err(err).Msg("send candidate")
	}
}

// transport follows the media connection's ICE state. A disconnect gets the
// grace period to recover before the call is ended.
func (a *CallAgent) transport(gen uint64, st webrtc.ICEConnectionState) {
	a.mu.Lock()
	fin := a.transportLocked(gen, st)
	a.mu.Unlock()
	fin.run()
}

func (a *CallAgent) transportLocked(gen uint64, st webrtc.ICEConnectionState) finish {
	if gen != a.gen || a.state == domain.CallIdle {
		return finish{}
	}
	switch st {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted,
		webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
		a.sig.Send(domain.EventCallTransport, transportOut{ToUserID: a.peer, State: st.String()})
	}

	switch st {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		a.disarmGrace()
		if a.state == domain.CallConnecting {
			a.startedAt = a.now()
			a.setState(domain.CallInCall)
		}
	case webrtc.ICEConnectionStateDisconnected:
		if a.graceTimer == nil {
			a.graceTimer = time.AfterFunc(a.grace, func() { a.graceExpired(gen) })
			a.logger.Info().Dur("grace", a.grace).Msg("transport disconnected, grace armed")
		}
	case webrtc.ICEConnectionStateFailed:
		a.sig.Send(domain.EventCallEnd, peerOut{ToUserID: a.peer})
		return a.endLocked("transport failed")
	}
	return finish{}
}

func (a *CallAgent) graceExpired(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || a.graceTimer == nil || a.state == domain.CallIdle {
		a.mu.Unlock()
		return
	}
	a.graceTimer = nil
	a.sig.Send(domain.EventCallEnd, peerOut{ToUserID: a.peer})
	fin := a.endLocked("transport stale")
	a.mu.Unlock()
	fin.run()
}

func (a *CallAgent) disarmGrace() {
	if a.graceTimer != nil {
		a.graceTimer.Stop()
		a.graceTimer = nil
	}
}

func (a *CallAgent) setState(s domain.CallState) {
	a.state = s
	if a.onState != nil {
		a.onState(s, a.peer)
	}
}

// endLocked resets the agent to idle. The media connection is closed by
// the returned finish, after the lock is released.
func (a *CallAgent) endLocked(reason string) finish {
	a.disarmGrace()
	summary := Summary{
		Peer:      a.peer,
		Direction: a.direction,
		CreatedAt: a.createdAt,
		StartedAt: a.startedAt,
		EndedAt:   a.now(),
		Reason:    reason,
	}
	fin := finish{media: a.media, summary: &summary, onEnd: a.onEnd}

	a.setState(domain.CallEnded)
	a.gen++
	a.media = nil
	a.remoteOffer = nil
	a.state = domain.CallIdle
	a.peer = ""
	a.logger.Info().Str("peer", string(summary.Peer)).Str("reason", reason).Dur("duration", summary.Duration()).Msg("call ended")
	return fin
}
