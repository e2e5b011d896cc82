package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

const defaultPushTimeout = 5 * time.Second

// PushBridge turns events for users without a live connection into
// push dispatches.
type PushBridge struct {
	reg        *Registry
	subs       core.PushSubscriptionStore
	dispatcher core.PushDispatcher
	metrics    *Metrics
	timeout    time.Duration
}

func NewPushBridge(reg *Registry, subs core.PushSubscriptionStore, d core.PushDispatcher, m *Metrics) *PushBridge {
	return &PushBridge{
		reg:        reg,
		subs:       subs,
		dispatcher: d,
		metrics:    m,
		timeout:    defaultPushTimeout,
	}
}

// Enqueue dispatches n in the background so fan-out never waits on it.
func (b *PushBridge) Enqueue(n domain.PushNotification) {
	if b == nil {
		return
	}
	b.metrics.PushCandidate(string(n.Kind))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := b.Notify(ctx, n); err != nil {
			log.Warn().Err(err).Str("module", "app.push").Str("user", string(n.UserID)).Str("kind", string(n.Kind)).Msg("push dispatch failed")
		}
	}()
}

// Notify dispatches n unless the user came online in the meantime or has
// no subscriptions.
func (b *PushBridge) Notify(ctx context.Context, n domain.PushNotification) error {
	if b.reg.IsOnline(n.UserID) {
		log.Debug().Str("module", "app.push").Str("user", string(n.UserID)).Msg("user online, push skipped")
		return nil
	}
	subs, err := b.subs.Subscriptions(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("load push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		log.Debug().Str("module", "app.push").Str("user", string(n.UserID)).Msg("no push subscriptions")
		return nil
	}
	if err := b.dispatcher.Dispatch(ctx, n, subs); err != nil {
		return fmt.Errorf("dispatch push: %w", err)
	}
	return nil
}
