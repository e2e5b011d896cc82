package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	out []published
	err error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, published{subject, data})
	return nil
}

func TestNatsDispatcherPublishesPerUser(t *testing.T) {
	pub := &fakePublisher{}
	d := NewNatsDispatcher(pub, "")
	n := domain.PushNotification{UserID: "bob", Kind: domain.PushMissedCall, Title: "Missed call"}
	subs := []domain.PushSubscription{{Endpoint: "https://push.example/1"}}

	require.NoError(t, d.Dispatch(context.Background(), n, subs))
	require.Len(t, pub.out, 1)
	assert.Equal(t, "push.notify.bob", pub.out[0].subject)

	var env Envelope
	require.NoError(t, json.Unmarshal(pub.out[0].data, &env))
	assert.Equal(t, n, env.Notification)
	assert.Equal(t, subs, env.Subscriptions)
	assert.False(t, env.QueuedAt.IsZero())
}

func TestNatsDispatcherErrors(t *testing.T) {
	boom := errors.New("boom")
	d := NewNatsDispatcher(&fakePublisher{err: boom}, "custom")
	subject, err := d.Subject("alice")
	require.NoError(t, err)
	assert.Equal(t, "custom.alice", subject)

	err = d.Dispatch(context.Background(), domain.PushNotification{UserID: "alice"}, nil)
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Dispatch(ctx, domain.PushNotification{UserID: "alice"}, nil), context.Canceled)
}

func TestNatsDispatcherRejectsSubjectBreakingIDs(t *testing.T) {
	pub := &fakePublisher{}
	d := NewNatsDispatcher(pub, "")

	for _, id := range []domain.UserID{"a.b", "*", "bob>", "al ice", "tab\tbed", ""} {
		_, err := d.Subject(id)
		assert.ErrorIs(t, err, ErrBadSubjectToken, "id %q", id)
		assert.ErrorIs(t, d.Dispatch(context.Background(), domain.PushNotification{UserID: id}, nil), ErrBadSubjectToken, "id %q", id)
	}
	assert.Empty(t, pub.out)

	subject, err := d.Subject("user-42_x")
	require.NoError(t, err)
	assert.Equal(t, "push.notify.user-42_x", subject)
}

func TestLogDispatcher(t *testing.T) {
	var buf bytes.Buffer
	d := &LogDispatcher{logger: zerolog.New(&buf)}

	require.NoError(t, d.Dispatch(context.Background(), domain.PushNotification{UserID: "bob", Kind: domain.PushMessage}, nil))
	assert.Contains(t, buf.String(), `"user":"bob"`)
	assert.Contains(t, buf.String(), `"kind":"message"`)
}
