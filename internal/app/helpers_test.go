package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Envelope
	closed bool
	full   bool
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("connection closed")
	}
	if f.full {
		return core.ErrBackpressure
	}
	var env core.Envelope
	if err := json.Unmarshal(fr, &env); err != nil {
		return err
	}
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSignal) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSignal) received() []core.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Envelope(nil), f.frames...)
}

func (f *fakeSignal) ofType(t string) []core.Envelope {
	var out []core.Envelope
	for _, e := range f.received() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func connect(reg *Registry, user domain.UserID) (*core.Connection, *fakeSignal) {
	sig := &fakeSignal{}
	c := core.NewConnection(user, sig)
	reg.Register(c)
	return c, sig
}

type dispatchRecorder struct {
	mu   sync.Mutex
	sent []domain.PushNotification
}

func (d *dispatchRecorder) Dispatch(_ context.Context, n domain.PushNotification, _ []domain.PushSubscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return nil
}

func (d *dispatchRecorder) notifications() []domain.PushNotification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.PushNotification(nil), d.sent...)
}
