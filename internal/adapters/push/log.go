package push

import (
	"context"

	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogDispatcher only records notifications. Used when no broker is set up.
type LogDispatcher struct {
	logger zerolog.Logger
}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{logger: log.With().Str("module", "push").Logger()}
}

func (d *LogDispatcher) Dispatch(_ context.Context, n domain.PushNotification, subs []domain.PushSubscription) error {
	d.logger.Info().
		Str("user", string(n.UserID)).
		Str("kind", string(n.Kind)).
		Str("conversation", string(n.ConversationID)).
		Int("subs", len(subs)).
		Msg("push notification (not delivered, no broker)")
	return nil
}
