package signal

import (
	"context"
	"encoding/json"

	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
)

func (ctl *SignalWSController) handleCallOffer(ctx context.Context, conn *core.Connection, raw json.RawMessage) error {
	var p offerIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	to, err := p.Validate()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, ctl.settings.StoreTimeout)
	defer cancel()
	return ctl.Orch.Calls.Offer(ctx, conn.UserID, to, p.Offer)
}

func (ctl *SignalWSController) handleCallAnswer(conn *core.Connection, raw json.RawMessage) error {
	var p answerIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	to, err := p.Validate()
	if err != nil {
		return err
	}
	return ctl.Orch.Calls.Answer(conn.UserID, to, p.Answer)
}

func (ctl *SignalWSController) handleCallICE(conn *core.Connection, raw json.RawMessage) error {
	var p iceIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	to, err := p.Validate()
	if err != nil {
		return err
	}
	return ctl.Orch.Calls.ICE(conn.UserID, to, p.Candidate)
}

func (ctl *SignalWSController) handleCallDecline(conn *core.Connection, raw json.RawMessage) error {
	var p declineIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	to, err := p.Validate()
	if err != nil {
		return err
	}
	return ctl.Orch.Calls.Decline(conn.UserID, to, p.reason())
}

func (ctl *SignalWSController) handleCallEnd(conn *core.Connection, raw json.RawMessage) error {
	var p endIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	to, err := p.Validate()
	if err != nil {
		return err
	}
	return ctl.Orch.Calls.End(conn.UserID, to)
}

func (ctl *SignalWSController) handleCallTransport(conn *core.Connection, raw json.RawMessage) error {
	var p transportIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	to, err := p.Validate()
	if err != nil {
		return err
	}
	return ctl.Orch.Calls.Transport(conn.UserID, to, p.State)
}
