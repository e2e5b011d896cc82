// Package rtc wraps a pion PeerConnection for the client side of a
// one-to-one call.
package rtc

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// PeerConnection is a core.MediaConnection with one audio transceiver.
// Remote candidates are queued until a remote description is set.
type PeerConnection struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	pending core.PendingQueue[webrtc.ICECandidateInit]

	mu      sync.Mutex
	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.ICEConnectionState)
	closed  bool
}

var _ core.MediaConnection = (*PeerConnection)(nil)

func NewPeerConnection(cfg webrtc.Configuration, label string) (*PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &PeerConnection{
		pc:     pc,
		logger: log.With().Str("module", "rtc").Str("call", label).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		go drain(c.ctx, track)
	})

	return c, nil
}

// drain reads and discards RTP so the receive buffers never fill up.
func drain(ctx context.Context, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for ctx.Err() == nil {
		if _, _, err := track.Read(buf); err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("module", "rtc").Msg("track read")
			}
			return
		}
	}
}

func (c *PeerConnection) CreateOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *PeerConnection) AcceptOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	c.flush()
	return c.pc.LocalDescription(), nil
}

func (c *PeerConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	c.flush()
	return nil
}

func (c *PeerConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if c.pending.Offer(ci) {
		c.logger.Debug().Int("pending", c.pending.Len()).Msg("candidate queued")
		return nil
	}
	return c.pc.AddICECandidate(ci)
}

// flush applies queued remote candidates once, in arrival order.
func (c *PeerConnection) flush() {
	for _, ci := range c.pending.Flush() {
		if err := c.pc.AddICECandidate(ci); err != nil {
			c.logger.Warn().Err(err).Msg("apply queued candidate")
		}
	}
}

// Pending is the number of remote candidates still queued.
func (c *PeerConnection) Pending() int { return c.pending.Len() }

func (c *PeerConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *PeerConnection) OnICEStateChange(fn func(webrtc.ICEConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *PeerConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.onICE = nil
	c.onState = nil
	c.mu.Unlock()

	c.cancel()
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return
	}
	c.logger.Info().Msg("closed")
}

func (c *PeerConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
