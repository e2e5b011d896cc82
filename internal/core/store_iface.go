package core

import (
	"context"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
)

// MembershipStore resolves who belongs to a conversation.
// Implementations may block; callers never hold in-memory locks across it.
type MembershipStore interface {
	Members(ctx context.Context, conv domain.ConversationID) ([]domain.UserID, error)
}

// BlockList reports whether blocker has blocked the other user.
type BlockList interface {
	IsBlocked(ctx context.Context, blocker, blocked domain.UserID) (bool, error)
}

type ReadReceiptStore interface {
	MarkConversationRead(ctx context.Context, conv domain.ConversationID, reader domain.UserID, at time.Time) error
}

type PushSubscriptionStore interface {
	Subscriptions(ctx context.Context, user domain.UserID) ([]domain.PushSubscription, error)
}

// PushDispatcher hands a notification to whatever delivers it off-site.
type PushDispatcher interface {
	Dispatch(ctx context.Context, n domain.PushNotification, subs []domain.PushSubscription) error
}

// Authenticator turns a bearer token into an identity.
type Authenticator interface {
	Authenticate(token string) (domain.UserID, error)
}
