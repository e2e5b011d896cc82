package app

import (
	"sync"

	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

// PresenceFunc receives online/offline transitions. It is called after the
// registry lock is released, one call at a time, and never with a
// transition that a newer one for the same user has already replaced.
type PresenceFunc func(userID domain.UserID, online bool)

// Registry is the source of truth for "online": one live connection per user.
type Registry struct {
	mu       sync.RWMutex
	conns    map[domain.UserID]*core.Connection
	seq      uint64
	latest   map[domain.UserID]uint64
	policy   Policy
	presence PresenceFunc

	notifyMu sync.Mutex
}

func NewRegistry(policy Policy) *Registry {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Registry{
		conns:  make(map[domain.UserID]*core.Connection),
		latest: make(map[domain.UserID]uint64),
		policy: policy,
	}
}

// OnPresence installs the presence hook. Not safe to call once traffic flows.
func (r *Registry) OnPresence(fn PresenceFunc) { r.presence = fn }

// Register makes c the live connection for its user. A previous connection
// is force-closed and returned so the caller can tear down state tied to it.
func (r *Registry) Register(c *core.Connection) *core.Connection {
	r.mu.Lock()
	prev := r.conns[c.UserID]
	r.conns[c.UserID] = c
	var seq uint64
	if prev == nil {
		seq = r.transition(c.UserID)
	}
	r.mu.Unlock()

	logger := log.With().Str("module", "app.registry").Str("user", string(c.UserID)).Str("conn", string(c.ID)).Logger()
	if prev != nil {
		prev.Close()
		logger.Info().Str("evicted", string(prev.ID)).Msg("replaced connection")
		return prev
	}
	logger.Info().Msg("registered connection")
	r.notify(c.UserID, true, seq)
	return nil
}

// Unregister removes c if it is still the current connection for its user.
// It reports whether anything was removed.
func (r *Registry) Unregister(c *core.Connection) bool {
	r.mu.Lock()
	cur, ok := r.conns[c.UserID]
	if !ok || cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, c.UserID)
	seq := r.transition(c.UserID)
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("user", string(c.UserID)).Str("conn", string(c.ID)).Msg("unregistered connection")
	r.notify(c.UserID, false, seq)
	return true
}

func (r *Registry) Resolve(userID domain.UserID) (*core.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

func (r *Registry) IsOnline(userID domain.UserID) bool {
	_, ok := r.Resolve(userID)
	return ok
}

// IsCurrent reports whether c is still the live connection for its user.
func (r *Registry) IsCurrent(c *core.Connection) bool {
	cur, ok := r.Resolve(c.UserID)
	return ok && cur == c
}

func (r *Registry) OnlineUsers() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.conns))
	for u := range r.conns {
		out = append(out, u)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send delivers f to the user's live connection.
func (r *Registry) Send(userID domain.UserID, f core.Frame) error {
	c, ok := r.Resolve(userID)
	if !ok {
		return domain.ErrUnavailable
	}
	if err := c.Send(f); err != nil {
		r.backpressure(c, err)
		return err
	}
	return nil
}

// Broadcast sends f to every live connection.
func (r *Registry) Broadcast(f core.Frame) PublishResult {
	r.mu.RLock()
	targets := make([]*core.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	res := PublishResult{}
	for _, c := range targets {
		if err := c.Send(f); err != nil {
			res.Dropped = append(res.Dropped, c.UserID)
			r.backpressure(c, err)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "app.registry").Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *Registry) backpressure(c *core.Connection, err error) {
	switch r.policy.OnBackPressure(c, err) {
	case KickMember:
		log.Warn().Err(err).Str("module", "app.registry").Str("user", string(c.UserID)).Msg("kicking slow connection")
		c.Close()
	case DropFrame, NoAction:
	}
}

// transition stamps a presence change for user. mu must be held.
func (r *Registry) transition(user domain.UserID) uint64 {
	r.seq++
	r.latest[user] = r.seq
	return r.seq
}

// notify hands the transition stamped seq to the presence hook unless a
// newer transition for the same user exists by now.
func (r *Registry) notify(userID domain.UserID, online bool, seq uint64) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	current := r.latest[userID] == seq
	if current && !online {
		delete(r.latest, userID)
	}
	r.mu.Unlock()
	if !current {
		log.Debug().Str("module", "app.registry").Str("user", string(userID)).Bool("online", online).Msg("superseded presence change dropped")
		return
	}
	if r.presence != nil {
		r.presence(userID, online)
	}
}
