package typing

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type edge struct {
	conv   domain.ConversationID
	user   domain.UserID
	typing bool
}

type recorder struct {
	mu    sync.Mutex
	edges []edge
}

func (r *recorder) TypingChanged(e Edge) {
	e.Commit(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.edges = append(r.edges, edge{e.Conv, e.User, e.Typing})
	})
}

// slowStops holds the first stop edge until release is closed, like an
// emitter stuck on a membership lookup.
type slowStops struct {
	recorder
	gated     atomic.Bool
	held      chan struct{}
	release   chan struct{}
	committed chan bool
}

func (s *slowStops) TypingChanged(e Edge) {
	if !e.Typing && s.gated.CompareAndSwap(true, false) {
		s.held <- struct{}{}
		<-s.release
		s.committed <- e.Commit(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.edges = append(s.edges, edge{e.Conv, e.User, e.Typing})
		})
		return
	}
	s.recorder.TypingChanged(e)
}

func (r *recorder) snapshot() []edge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]edge(nil), r.edges...)
}

func TestStartTwiceEmitsOnce(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, time.Hour)

	c.Start("c1", "alice")
	c.Start("c1", "alice")

	assert.Equal(t, []edge{{"c1", "alice", true}}, rec.snapshot())
	assert.ElementsMatch(t, []domain.UserID{"alice"}, c.Typers("c1"))
}

func TestSilenceExpiresEntry(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, 40*time.Millisecond)

	c.Start("c1", "alice")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []edge{{"c1", "alice", true}, {"c1", "alice", false}}, rec.snapshot())
	assert.Empty(t, c.Typers("c1"))

	// nothing else fires later
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 2)
}

func TestRefreshPostponesExpiry(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, 100*time.Millisecond)

	c.Start("c1", "alice")
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		c.Start("c1", "alice")
	}
	// past the ttl, still typing thanks to refreshes
	assert.Len(t, rec.snapshot(), 1)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, rec.snapshot()[1].typing)
}

func TestStopIsEmittedOncePerRisingEdge(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, 30*time.Millisecond)

	c.Start("c1", "alice")
	c.Stop("c1", "alice")
	c.Stop("c1", "alice")
	c.StopAll("alice")

	// the expiry timer was cancelled with the entry
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []edge{{"c1", "alice", true}, {"c1", "alice", false}}, rec.snapshot())
}

func TestStopForOtherConversationIgnored(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, time.Hour)

	c.Start("c1", "alice")
	c.Stop("c2", "alice")

	assert.Len(t, rec.snapshot(), 1)
	assert.ElementsMatch(t, []domain.UserID{"alice"}, c.Typers("c1"))
}

func TestSwitchingConversationStopsPrevious(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, time.Hour)

	c.Start("c1", "alice")
	c.Start("c2", "alice")

	assert.Equal(t, []edge{
		{"c1", "alice", true},
		{"c1", "alice", false},
		{"c2", "alice", true},
	}, rec.snapshot())
	assert.Empty(t, c.Typers("c1"))
	assert.ElementsMatch(t, []domain.UserID{"alice"}, c.Typers("c2"))
}

func TestStopAllOnDisconnect(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, time.Hour)

	c.Start("c1", "alice")
	c.Start("c1", "bob")
	c.StopAll("alice")

	assert.ElementsMatch(t, []domain.UserID{"bob"}, c.Typers("c1"))
	assert.Contains(t, rec.snapshot(), edge{"c1", "alice", false})
}

func TestLateStopDoesNotOvertakeNewerStart(t *testing.T) {
	em := &slowStops{
		held:      make(chan struct{}),
		release:   make(chan struct{}),
		committed: make(chan bool, 1),
	}
	em.gated.Store(true)
	c := NewCoordinator(em, 20*time.Millisecond)

	c.Start("c1", "alice")
	select {
	case <-em.held:
	case <-time.After(time.Second):
		t.Fatal("expiry never fired")
	}

	// alice types again while the expiry's stop is still in flight
	c.Start("c1", "alice")
	assert.ElementsMatch(t, []domain.UserID{"alice"}, c.Typers("c1"))

	close(em.release)
	select {
	case ok := <-em.committed:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stop edge never committed")
	}
	assert.Equal(t, []edge{{"c1", "alice", true}, {"c1", "alice", true}}, em.snapshot()[:2])
	for _, e := range em.snapshot()[2:] {
		// only the second entry's own expiry may follow
		assert.False(t, e.typing)
	}
	c.StopAll("alice")
}

func TestEdgeCommitReleasesKey(t *testing.T) {
	var got []Edge
	em := emitFunc(func(e Edge) { got = append(got, e) })
	c := NewCoordinator(em, time.Hour)

	c.Start("c1", "alice")
	c.Stop("c1", "alice")
	require.Len(t, got, 2)

	// the start was overtaken by the stop before either was delivered
	assert.False(t, got[0].Commit(func() { t.Error("stale start delivered") }))
	assert.True(t, got[1].Commit(nil))
	assert.False(t, got[1].Commit(nil))
	assert.Empty(t, c.latest)
}

type emitFunc func(Edge)

func (f emitFunc) TypingChanged(e Edge) { f(e) }
