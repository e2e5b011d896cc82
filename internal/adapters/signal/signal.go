// Package signal is the websocket edge of the real-time layer. Each
// authenticated socket becomes one core.Connection; inbound frames are
// validated here and handed to the orchestrator's components.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/app/orch"
	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errConnClosed = errors.New("connection closed")

// UserKey is the gin context key the auth middleware stores the user id under.
const UserKey = "user_id"

type Settings struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteWait    time.Duration
	SendBuffer   int
	StoreTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		ReadLimit:    64 << 10,
		PingPeriod:   25 * time.Second,
		WriteWait:    5 * time.Second,
		SendBuffer:   64,
		StoreTimeout: 3 * time.Second,
	}
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Limiter  *EventRateLimiter
	settings Settings
}

func NewSignalWSController(o *orch.Orchestrator, limiter *EventRateLimiter, settings Settings) *SignalWSController {
	def := DefaultSettings()
	if settings.ReadLimit <= 0 {
		settings.ReadLimit = def.ReadLimit
	}
	if settings.PingPeriod <= 0 {
		settings.PingPeriod = def.PingPeriod
	}
	if settings.WriteWait <= 0 {
		settings.WriteWait = def.WriteWait
	}
	if settings.SendBuffer <= 0 {
		settings.SendBuffer = def.SendBuffer
	}
	if settings.StoreTimeout <= 0 {
		settings.StoreTimeout = def.StoreTimeout
	}
	return &SignalWSController{Orch: o, Limiter: limiter, settings: settings}
}

// WsSignalConn is the outbound half of a socket. Frames are queued on send
// and written by the write pump; a full queue is reported as backpressure.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades an authenticated request and runs the socket until
// it closes or ctx is cancelled.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	userID, err := domain.ParseUserID(c.GetString(UserKey))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sc := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.settings.SendBuffer),
	}
	conn := core.NewConnection(userID, sc)
	log.Info().Str("module", "signal").Str("user", string(userID)).Str("conn", string(conn.ID)).Msg("new WS connection")

	ctl.Orch.Connect(conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, sc)
	go ctl.readPump(ctx, cancel, conn, sc)
}
