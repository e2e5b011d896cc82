package core

import (
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/google/uuid"
)

type ConnectionID string

// Connection binds an authenticated identity to its transport endpoint.
// The registry holds at most one per user.
type Connection struct {
	UserID      domain.UserID
	ID          ConnectionID
	ConnectedAt time.Time

	signal SignalConnection
}

func NewConnection(userID domain.UserID, sc SignalConnection) *Connection {
	return &Connection{
		UserID:      userID,
		ID:          ConnectionID(uuid.NewString()),
		ConnectedAt: time.Now(),
		signal:      sc,
	}
}

func (c *Connection) Send(f Frame) error { return c.signal.TrySend(f) }

func (c *Connection) Close() { c.signal.Close() }
