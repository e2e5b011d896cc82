package core

import "github.com/pion/webrtc/v4"

// MediaConnection is the client-side peer connection a call agent drives.
// Remote candidates added before the remote description is applied are
// held back and applied right after it.
type MediaConnection interface {
	// CreateOffer sets and returns the local offer.
	CreateOffer() (*webrtc.SessionDescription, error)
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnICEStateChange(func(webrtc.ICEConnectionState))
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
}
