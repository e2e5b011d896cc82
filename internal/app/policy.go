package app

import (
	"errors"

	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(conn *core.Connection, err error) BackpressureAction
}

// SimplePolicy kicks a connection whose send buffer is full and drops the
// frame for anything else (already closed connections).
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ *core.Connection, err error) BackpressureAction {
	if errors.Is(err, core.ErrBackpressure) {
		return KickMember
	}
	return DropFrame
}

// PublishResult reports delivery stats/backpressure.
type PublishResult struct {
	SentTo  int
	Offline []domain.UserID
	Dropped []domain.UserID
}
