// Package typing keeps ephemeral "is typing" state per conversation.
//
// A user types in at most one conversation at a time. Each entry owns an
// expiry timer; the entry and its timer are destroyed together. Observers
// see typing:start once per rising edge and typing:stop at most once after it.
package typing

import (
	"sync"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultTTL = 1600 * time.Millisecond

// Emitter is told about edges. Calls happen outside the coordinator lock, so
// an emitter that blocks must Commit the edge before delivering it.
type Emitter interface {
	TypingChanged(e Edge)
}

// Edge is one typing transition for a (conversation, user) key.
type Edge struct {
	Conv   domain.ConversationID
	User   domain.UserID
	Typing bool

	seq uint64
	c   *Coordinator
}

type edgeKey struct {
	conv domain.ConversationID
	user domain.UserID
}

// Commit runs send under the coordinator lock unless a newer edge for the
// same key was produced since e. It reports whether send ran. A nil send only
// releases the edge. Edges built outside a coordinator always commit.
func (e Edge) Commit(send func()) bool {
	if e.c == nil {
		if send != nil {
			send()
		}
		return true
	}
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	k := edgeKey{conv: e.Conv, user: e.User}
	if e.c.latest[k] != e.seq {
		return false
	}
	delete(e.c.latest, k)
	if send != nil {
		send()
	}
	return true
}

type entry struct {
	conv        domain.ConversationID
	user        domain.UserID
	refreshedAt time.Time
	timer       *time.Timer
	gen         uint64
}

type Coordinator struct {
	mu     sync.Mutex
	ttl    time.Duration
	emit   Emitter
	gen    uint64
	seq    uint64
	byUser map[domain.UserID]*entry
	byConv map[domain.ConversationID]map[domain.UserID]*entry
	latest map[edgeKey]uint64
}

func NewCoordinator(emit Emitter, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		ttl:    ttl,
		emit:   emit,
		byUser: make(map[domain.UserID]*entry),
		byConv: make(map[domain.ConversationID]map[domain.UserID]*entry),
		latest: make(map[edgeKey]uint64),
	}
}

// Start inserts or refreshes the user's entry in conv. Only the first insert
// is announced. Typing in another conversation stops the previous one first.
func (c *Coordinator) Start(conv domain.ConversationID, user domain.UserID) {
	c.mu.Lock()
	var stopped *Edge
	if e, ok := c.byUser[user]; ok {
		if e.conv == conv {
			c.arm(e)
			c.mu.Unlock()
			return
		}
		c.remove(e)
		stop := c.edge(e.conv, user, false)
		stopped = &stop
	}
	e := &entry{conv: conv, user: user}
	c.byUser[user] = e
	if c.byConv[conv] == nil {
		c.byConv[conv] = make(map[domain.UserID]*entry)
	}
	c.byConv[conv][user] = e
	c.arm(e)
	started := c.edge(conv, user, true)
	c.mu.Unlock()

	if stopped != nil {
		c.emit.TypingChanged(*stopped)
	}
	log.Debug().Str("module", "app.typing").Str("conversation", string(conv)).Str("user", string(user)).Msg("typing started")
	c.emit.TypingChanged(started)
}

// Stop removes the entry if present. Redundant stops are ignored.
func (c *Coordinator) Stop(conv domain.ConversationID, user domain.UserID) {
	c.mu.Lock()
	e, ok := c.byUser[user]
	if !ok || e.conv != conv {
		c.mu.Unlock()
		return
	}
	c.remove(e)
	stopped := c.edge(conv, user, false)
	c.mu.Unlock()

	c.emit.TypingChanged(stopped)
}

// StopAll clears whatever the user was typing in, used on disconnect.
func (c *Coordinator) StopAll(user domain.UserID) {
	c.mu.Lock()
	e, ok := c.byUser[user]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.remove(e)
	stopped := c.edge(e.conv, user, false)
	c.mu.Unlock()

	c.emit.TypingChanged(stopped)
}

// Typers returns who is currently typing in conv.
func (c *Coordinator) Typers(conv domain.ConversationID) []domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.UserID, 0, len(c.byConv[conv]))
	for u := range c.byConv[conv] {
		out = append(out, u)
	}
	return out
}

// arm replaces the entry's timer. The new generation makes any callback of
// the old timer that already fired a no-op.
func (c *Coordinator) arm(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	c.gen++
	gen := c.gen
	e.gen = gen
	e.refreshedAt = time.Now()
	user := e.user
	e.timer = time.AfterFunc(c.ttl, func() { c.expire(user, gen) })
}

func (c *Coordinator) expire(user domain.UserID, gen uint64) {
	c.mu.Lock()
	e, ok := c.byUser[user]
	if !ok || e.gen != gen {
		c.mu.Unlock()
		return
	}
	c.remove(e)
	stopped := c.edge(e.conv, user, false)
	c.mu.Unlock()

	log.Debug().Str("module", "app.typing").Str("conversation", string(e.conv)).Str("user", string(user)).Msg("typing expired")
	c.emit.TypingChanged(stopped)
}

// edge records a new transition as the latest for its key. mu must be held.
func (c *Coordinator) edge(conv domain.ConversationID, user domain.UserID, typing bool) Edge {
	c.seq++
	c.latest[edgeKey{conv: conv, user: user}] = c.seq
	return Edge{Conv: conv, User: user, Typing: typing, seq: c.seq, c: c}
}

// remove must be called with mu held.
func (c *Coordinator) remove(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(c.byUser, e.user)
	if set, ok := c.byConv[e.conv]; ok {
		delete(set, e.user)
		if len(set) == 0 {
			delete(c.byConv, e.conv)
		}
	}
}
