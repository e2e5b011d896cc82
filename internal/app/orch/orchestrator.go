// Package orch ties the real-time components together around connection
// lifecycle: what happens when a user connects, is replaced by a newer
// connection, or goes away.
package orch

import (
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/app"
	"github.com/dasnai88/KTK-messedger-sub000/internal/app/call"
	"github.com/dasnai88/KTK-messedger-sub000/internal/app/typing"
	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

type Stores struct {
	Members core.MembershipStore
	Blocks  core.BlockList
	Reads   core.ReadReceiptStore
	Push    core.PushSubscriptionStore
}

type Options struct {
	TypingTTL time.Duration
	ICEGrace  time.Duration
	Policy    app.Policy
}

type Orchestrator struct {
	Registry *app.Registry
	Presence *app.Presence
	Typing   *typing.Coordinator
	Fanout   *app.Fanout
	Calls    *call.Machine
	Push     *app.PushBridge
	Metrics  *app.Metrics
}

func New(stores Stores, dispatcher core.PushDispatcher, opts Options) *Orchestrator {
	metrics := app.NewMetrics()
	reg := app.NewRegistry(opts.Policy)
	presence := app.NewPresence(reg)

	push := app.NewPushBridge(reg, stores.Push, dispatcher, metrics)
	fanout := app.NewFanout(reg, stores.Members, stores.Reads, push, metrics)
	reg.OnPresence(func(user domain.UserID, online bool) {
		presence.OnChange(user, online)
		if !online {
			fanout.ForgetReader(user)
		}
	})
	grace := opts.ICEGrace
	if grace <= 0 {
		grace = call.DefaultGrace
	}
	calls := call.NewMachine(reg, stores.Blocks,
		call.WithGrace(grace),
		call.WithPush(push),
		call.WithRecorder(func(r domain.CallRecord) { metrics.CallEnded(string(r.Outcome)) }),
	)

	return &Orchestrator{
		Registry: reg,
		Presence: presence,
		Typing:   typing.NewCoordinator(fanout, opts.TypingTTL),
		Fanout:   fanout,
		Calls:    calls,
		Push:     push,
		Metrics:  metrics,
	}
}

// Connect registers a freshly authenticated connection. A connection it
// replaces loses its call and typing state before the new one is used.
func (o *Orchestrator) Connect(conn *core.Connection) {
	if evicted := o.Registry.Register(conn); evicted != nil {
		log.Info().Str("module", "orch").Str("user", string(conn.UserID)).Str("evicted", string(evicted.ID)).Msg("connection replaced")
		o.cleanupUser(evicted.UserID)
	}
}

// Disconnect is called once the connection's read loop ends. It is a no-op
// for a connection that was already replaced.
func (o *Orchestrator) Disconnect(conn *core.Connection) {
	if !o.Registry.Unregister(conn) {
		return
	}
	o.cleanupUser(conn.UserID)
}

// Live reports whether events from conn should still be acted on.
func (o *Orchestrator) Live(conn *core.Connection) bool {
	return o.Registry.IsCurrent(conn)
}

func (o *Orchestrator) cleanupUser(user domain.UserID) {
	o.Typing.StopAll(user)
	if o.Calls.Drop(user) {
		log.Info().Str("module", "orch").Str("user", string(user)).Msg("call dropped with connection")
	}
}
