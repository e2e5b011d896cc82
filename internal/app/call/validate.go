package call

import (
	"encoding/json"
	"fmt"

	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/pion/webrtc/v4"
)

// ValidateDescription checks that raw is a session description of the
// wanted type carrying parseable SDP.
func ValidateDescription(raw json.RawMessage, want webrtc.SDPType) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrMalformed, want)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrMalformed, want, err)
	}
	if desc.Type != want {
		return fmt.Errorf("%w: expected %s, got %s", domain.ErrMalformed, want, desc.Type)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: bad sdp: %v", domain.ErrMalformed, err)
	}
	return nil
}

func ValidateCandidate(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing candidate", domain.ErrMalformed)
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("%w: candidate: %v", domain.ErrMalformed, err)
	}
	if c.Candidate == "" {
		return fmt.Errorf("%w: empty candidate", domain.ErrMalformed)
	}
	return nil
}

// ParseTransportState maps a client-reported ICE connection state.
func ParseTransportState(raw string) (webrtc.ICEConnectionState, error) {
	st := webrtc.NewICEConnectionState(raw)
	if st == webrtc.ICEConnectionStateUnknown {
		return st, fmt.Errorf("%w: transport state %q", domain.ErrMalformed, raw)
	}
	return st, nil
}
