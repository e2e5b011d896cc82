package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dasnai88/KTK-messedger-sub000/internal/app/call"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Inbound payloads. Each is decoded strictly and validated before any
// component sees it.

type typingIn struct {
	ConversationID string `json:"conversationId"`
}

func (p typingIn) Validate() (domain.ConversationID, error) {
	id, err := domain.ParseConversationID(p.ConversationID)
	if err != nil {
		return "", fmt.Errorf("%w: conversationId: %v", domain.ErrMalformed, err)
	}
	return id, nil
}

type callTarget struct {
	ToUserID string `json:"toUserId"`
}

func (p callTarget) target() (domain.UserID, error) {
	id, err := domain.ParseUserID(p.ToUserID)
	if err != nil {
		return "", fmt.Errorf("%w: toUserId: %v", domain.ErrMalformed, err)
	}
	return id, nil
}

type offerIn struct {
	callTarget
	Offer json.RawMessage `json:"offer"`
}

func (p offerIn) Validate() (domain.UserID, error) {
	to, err := p.target()
	if err != nil {
		return "", err
	}
	return to, call.ValidateDescription(p.Offer, webrtc.SDPTypeOffer)
}

type answerIn struct {
	callTarget
	Answer json.RawMessage `json:"answer"`
}

func (p answerIn) Validate() (domain.UserID, error) {
	to, err := p.target()
	if err != nil {
		return "", err
	}
	return to, call.ValidateDescription(p.Answer, webrtc.SDPTypeAnswer)
}

type iceIn struct {
	callTarget
	Candidate json.RawMessage `json:"candidate"`
}

func (p iceIn) Validate() (domain.UserID, error) {
	to, err := p.target()
	if err != nil {
		return "", err
	}
	return to, call.ValidateCandidate(p.Candidate)
}

type declineIn struct {
	callTarget
	Reason domain.DeclineReason `json:"reason"`
}

// reason defaults to a plain decline when the client sends none.
func (p declineIn) reason() domain.DeclineReason {
	if p.Reason == "" {
		return domain.ReasonDeclined
	}
	return p.Reason
}

func (p declineIn) Validate() (domain.UserID, error) {
	to, err := p.target()
	if err != nil {
		return "", err
	}
	if !p.reason().Valid() {
		return "", fmt.Errorf("%w: decline reason %q", domain.ErrMalformed, p.Reason)
	}
	return to, nil
}

type endIn struct {
	callTarget
}

func (p endIn) Validate() (domain.UserID, error) {
	return p.target()
}

type transportIn struct {
	callTarget
	State string `json:"state"`
}

func (p transportIn) Validate() (domain.UserID, error) {
	to, err := p.target()
	if err != nil {
		return "", err
	}
	if _, err := call.ParseTransportState(p.State); err != nil {
		return "", err
	}
	return to, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", domain.ErrMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	return nil
}
