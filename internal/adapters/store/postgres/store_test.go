package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These run against a real database only when KTK_TEST_DATABASE_URL is set.
func openTest(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("KTK_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("KTK_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMembersAndReadWatermark(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	conv := domain.ConversationID("conv-" + uuid.NewString())

	for _, u := range []string{"alice", "bob"} {
		_, err := s.db.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)`, string(conv), u)
		require.NoError(t, err)
	}

	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkConversationRead(ctx, conv, "alice", t1))
	require.NoError(t, s.MarkConversationRead(ctx, conv, "bob", t1))
	require.NoError(t, s.MarkConversationRead(ctx, conv, "alice", t1.Add(-time.Hour)))
	assert.Error(t, s.MarkConversationRead(ctx, conv, "mallory", t1))

	members, err := s.Members(ctx, conv)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.UserID{"alice", "bob"}, members)

	var got time.Time
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT last_read_at FROM conversation_members WHERE conversation_id = $1 AND user_id = $2`,
		string(conv), "alice").Scan(&got))
	assert.True(t, got.Equal(t1), fmt.Sprintf("watermark regressed to %s", got))
}

func TestBlocksAndSubscriptions(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	a, b := "u-"+uuid.NewString(), "u-"+uuid.NewString()

	_, err := s.db.ExecContext(ctx, `INSERT INTO user_blocks (blocker_id, blocked_id) VALUES ($1, $2)`, b, a)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth) VALUES ($1, 'https://push.example/1', 'k', 'a')`, b)
	require.NoError(t, err)

	blocked, err := s.IsBlocked(ctx, domain.UserID(b), domain.UserID(a))
	require.NoError(t, err)
	assert.True(t, blocked)
	blocked, err = s.IsBlocked(ctx, domain.UserID(a), domain.UserID(b))
	require.NoError(t, err)
	assert.False(t, blocked)

	subs, err := s.Subscriptions(ctx, domain.UserID(b))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example/1", subs[0].Endpoint)
}
