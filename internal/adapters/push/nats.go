// Package push hands notifications for offline users to an external
// delivery worker. The worker owns the web-push keys and the retry policy.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Publisher is the part of *nats.Conn the dispatcher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Envelope is what the delivery worker receives on push.notify.<userId>.
type Envelope struct {
	Notification  domain.PushNotification   `json:"notification"`
	Subscriptions []domain.PushSubscription `json:"subscriptions"`
	QueuedAt      time.Time                 `json:"queuedAt"`
}

type NatsDispatcher struct {
	pub    Publisher
	prefix string
}

func NewNatsDispatcher(pub Publisher, prefix string) *NatsDispatcher {
	if prefix == "" {
		prefix = "push.notify"
	}
	return &NatsDispatcher{pub: pub, prefix: prefix}
}

// ErrBadSubjectToken is returned for a user id that would not form a single
// literal NATS subject token.
var ErrBadSubjectToken = errors.New("user id is not a valid subject token")

// Subject is the per-user subject. Ids containing '.', '*', '>' or
// whitespace are rejected instead of widening the subject.
func (d *NatsDispatcher) Subject(user domain.UserID) (string, error) {
	if user == "" || strings.ContainsFunc(string(user), func(r rune) bool {
		return r == '.' || r == '*' || r == '>' || unicode.IsSpace(r)
	}) {
		return "", fmt.Errorf("%w: %q", ErrBadSubjectToken, user)
	}
	return d.prefix + "." + string(user), nil
}

func (d *NatsDispatcher) Dispatch(ctx context.Context, n domain.PushNotification, subs []domain.PushSubscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Notification: n, Subscriptions: subs, QueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}
	subject, err := d.Subject(n.UserID)
	if err != nil {
		return err
	}
	if err := d.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	log.Debug().Str("module", "push").Str("subject", subject).Str("kind", string(n.Kind)).Int("subs", len(subs)).Msg("push published")
	return nil
}

// Connect dials NATS with unlimited reconnects.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("module", "push").Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("module", "push").Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}
