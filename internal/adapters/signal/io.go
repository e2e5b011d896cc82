package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.settings.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.settings.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.settings.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, conn *core.Connection, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("user", string(conn.UserID)).Str("conn", string(conn.ID)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.Disconnect(conn)
		if ctl.Limiter != nil && !ctl.Orch.Registry.IsOnline(conn.UserID) {
			ctl.Limiter.Forget(conn.UserID)
		}
	}()

	pongWait := ctl.settings.PingPeriod * 2
	c.conn.SetReadLimit(ctl.settings.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("user", string(conn.UserID)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.dispatch(ctx, conn, data)
	}
}

// dispatch routes one inbound frame. Frames from a connection that has been
// replaced are ignored.
func (ctl *SignalWSController) dispatch(ctx context.Context, conn *core.Connection, data []byte) {
	if !ctl.Orch.Live(conn) {
		log.Debug().Str("module", "signal").Str("conn", string(conn.ID)).Msg("event from replaced connection")
		return
	}

	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(conn.UserID)).Msg("bad json")
		return
	}

	if env.Type == domain.EventPing {
		ctl.handlePing(conn)
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(conn.UserID) {
		log.Warn().Str("module", "signal").Str("user", string(conn.UserID)).Str("type", env.Type).Msg("rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}

	var err error
	switch env.Type {
	case domain.EventTypingStart:
		err = ctl.handleTypingStart(conn, env.Payload)
	case domain.EventTypingStop:
		err = ctl.handleTypingStop(conn, env.Payload)
	case domain.EventCallOffer:
		err = ctl.handleCallOffer(ctx, conn, env.Payload)
	case domain.EventCallAnswer:
		err = ctl.handleCallAnswer(conn, env.Payload)
	case domain.EventCallICE:
		err = ctl.handleCallICE(conn, env.Payload)
	case domain.EventCallDecline:
		err = ctl.handleCallDecline(conn, env.Payload)
	case domain.EventCallEnd:
		err = ctl.handleCallEnd(conn, env.Payload)
	case domain.EventCallTransport:
		err = ctl.handleCallTransport(conn, env.Payload)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		return
	}
	if err == nil {
		return
	}

	ev := log.Warn()
	if !errors.Is(err, domain.ErrMalformed) && !errors.Is(err, domain.ErrNoSession) {
		ev = log.Info()
	}
	ev.Err(err).Str("module", "signal").Str("user", string(conn.UserID)).Str("type", env.Type).Msg("event rejected")
}

func (ctl *SignalWSController) send(conn *core.Connection, eventType string, payload any) {
	f, err := core.Encode(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode")
		return
	}
	if err := conn.Send(f); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("user", string(conn.UserID)).Str("type", eventType).Msg("send")
	}
}
