package signal

import (
	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
)

type errorPayload struct {
	Error string `json:"error"`
}

func (ctl *SignalWSController) handlePing(conn *core.Connection) {
	ctl.send(conn, domain.EventPong, struct{}{})
}

func (ctl *SignalWSController) sendError(conn *core.Connection, code string) {
	ctl.send(conn, domain.EventError, errorPayload{Error: code})
}
