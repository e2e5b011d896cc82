package signal

import (
	"encoding/json"

	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
)

func (ctl *SignalWSController) handleTypingStart(conn *core.Connection, raw json.RawMessage) error {
	var p typingIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	conv, err := p.Validate()
	if err != nil {
		return err
	}
	ctl.Orch.Typing.Start(conv, conn.UserID)
	return nil
}

func (ctl *SignalWSController) handleTypingStop(conn *core.Connection, raw json.RawMessage) error {
	var p typingIn
	if err := decode(raw, &p); err != nil {
		return err
	}
	conv, err := p.Validate()
	if err != nil {
		return err
	}
	ctl.Orch.Typing.Stop(conv, conn.UserID)
	return nil
}
