package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/adapters/store/memory"
	"github.com/dasnai88/KTK-messedger-sub000/internal/app/typing"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fanoutFixture struct {
	reg    *Registry
	store  *memory.Store
	disp   *dispatchRecorder
	fanout *Fanout
}

func newFanoutFixture() *fanoutFixture {
	reg := NewRegistry(nil)
	store := memory.NewStore()
	disp := &dispatchRecorder{}
	push := NewPushBridge(reg, store, disp, nil)
	return &fanoutFixture{
		reg:    reg,
		store:  store,
		disp:   disp,
		fanout: NewFanout(reg, store, store, push, nil),
	}
}

func TestPublishDeliversOnlineAndPushesOffline(t *testing.T) {
	fx := newFanoutFixture()
	fx.store.SetMembers("c1", "alice", "bob")
	fx.store.AddSubscription("bob", domain.PushSubscription{Endpoint: "https://push.example/bob"})
	_, aliceSig := connect(fx.reg, "alice")

	msg := domain.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "alice",
		Preview:        "hi",
		Body:           json.RawMessage(`{"id":"m1","text":"hi"}`),
	}
	res, err := fx.fanout.Publish(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SentTo)
	assert.Equal(t, []domain.UserID{"bob"}, res.Offline)

	got := aliceSig.ofType(domain.EventMessage)
	require.Len(t, got, 1)
	var p MessagePayload
	require.NoError(t, json.Unmarshal(got[0].Payload, &p))
	assert.Equal(t, domain.ConversationID("c1"), p.ConversationID)
	assert.JSONEq(t, `{"id":"m1","text":"hi"}`, string(p.Message))

	require.Eventually(t, func() bool { return len(fx.disp.notifications()) == 1 }, time.Second, 5*time.Millisecond)
	n := fx.disp.notifications()[0]
	assert.Equal(t, domain.UserID("bob"), n.UserID)
	assert.Equal(t, domain.PushMessage, n.Kind)
	assert.Equal(t, "m1", n.Data["messageId"])
}

func TestPublishDoesNotPushTheSender(t *testing.T) {
	fx := newFanoutFixture()
	fx.store.SetMembers("c1", "alice", "bob")
	fx.store.AddSubscription("alice", domain.PushSubscription{Endpoint: "https://push.example/alice"})
	_, _ = connect(fx.reg, "bob")

	res, err := fx.fanout.Publish(context.Background(), domain.Message{ConversationID: "c1", SenderID: "alice", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"alice"}, res.Offline)

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, fx.disp.notifications())
}

func TestReadWatermarkOnlyAdvances(t *testing.T) {
	fx := newFanoutFixture()
	fx.store.SetMembers("c1", "alice", "bob")
	_, aliceSig := connect(fx.reg, "alice")
	_, bobSig := connect(fx.reg, "bob")

	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := fx.fanout.MarkRead(context.Background(), domain.ReadMark{ConversationID: "c1", ReaderID: "bob", LastReadAt: t1})
	require.NoError(t, err)

	// an older watermark arriving late is dropped
	_, err = fx.fanout.MarkRead(context.Background(), domain.ReadMark{ConversationID: "c1", ReaderID: "bob", LastReadAt: t1.Add(-time.Second)})
	assert.ErrorIs(t, err, domain.ErrStaleRead)
	_, err = fx.fanout.PublishRead(context.Background(), domain.ReadMark{ConversationID: "c1", ReaderID: "bob", LastReadAt: t1})
	assert.ErrorIs(t, err, domain.ErrStaleRead)

	reads := aliceSig.ofType(domain.EventConversationRead)
	require.Len(t, reads, 1)
	var p ReadPayload
	require.NoError(t, json.Unmarshal(reads[0].Payload, &p))
	assert.Equal(t, domain.UserID("bob"), p.ReaderID)
	assert.True(t, t1.Equal(p.LastReadAt))

	// the reader is not told about its own read
	assert.Empty(t, bobSig.ofType(domain.EventConversationRead))
	assert.True(t, t1.Equal(fx.store.LastRead("c1", "bob")))
}

func TestPostsAreGlobal(t *testing.T) {
	fx := newFanoutFixture()
	_, aliceSig := connect(fx.reg, "alice")
	_, bobSig := connect(fx.reg, "bob")

	res, err := fx.fanout.PublishPost(json.RawMessage(`{"id":"p1"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, res.SentTo)
	_, err = fx.fanout.PublishPostDelete("p1")
	require.NoError(t, err)

	for _, sig := range []*fakeSignal{aliceSig, bobSig} {
		assert.Len(t, sig.ofType(domain.EventPostNew), 1)
		del := sig.ofType(domain.EventPostDelete)
		require.Len(t, del, 1)
		assert.JSONEq(t, `{"postId":"p1"}`, string(del[0].Payload))
	}
}

func TestTypingGoesToOtherMembersOnly(t *testing.T) {
	fx := newFanoutFixture()
	fx.store.SetMembers("c1", "alice", "bob")
	_, aliceSig := connect(fx.reg, "alice")
	_, bobSig := connect(fx.reg, "bob")
	_, carolSig := connect(fx.reg, "carol")

	fx.fanout.TypingChanged(typing.Edge{Conv: "c1", User: "alice", Typing: true})
	fx.fanout.TypingChanged(typing.Edge{Conv: "c1", User: "carol", Typing: true})

	assert.Empty(t, aliceSig.ofType(domain.EventTypingStart))
	assert.Empty(t, carolSig.ofType(domain.EventTypingStart))
	got := bobSig.ofType(domain.EventTypingStart)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"conversationId":"c1","userId":"alice"}`, string(got[0].Payload))
}

// flakyMembers fails the first n lookups.
type flakyMembers struct {
	*memory.Store
	failures atomic.Int32
}

func (f *flakyMembers) Members(ctx context.Context, conv domain.ConversationID) ([]domain.UserID, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("db down")
	}
	return f.Store.Members(ctx, conv)
}

func TestReadRetriedAfterLookupFailureIsDelivered(t *testing.T) {
	fx := newFanoutFixture()
	fx.store.SetMembers("c1", "alice", "bob")
	members := &flakyMembers{Store: fx.store}
	members.failures.Store(1)
	fx.fanout = NewFanout(fx.reg, members, fx.store, nil, nil)
	_, aliceSig := connect(fx.reg, "alice")
	_, _ = connect(fx.reg, "bob")

	mark := domain.ReadMark{ConversationID: "c1", ReaderID: "bob", LastReadAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	_, err := fx.fanout.MarkRead(context.Background(), mark)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrStaleRead)
	assert.Empty(t, aliceSig.ofType(domain.EventConversationRead))

	res, err := fx.fanout.MarkRead(context.Background(), mark)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SentTo)
	assert.Len(t, aliceSig.ofType(domain.EventConversationRead), 1)
}

func TestForgetReaderDropsWatermarks(t *testing.T) {
	fx := newFanoutFixture()
	fx.store.SetMembers("c1", "alice", "bob")
	fx.store.SetMembers("c2", "alice", "bob")
	_, aliceSig := connect(fx.reg, "alice")

	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, conv := range []domain.ConversationID{"c1", "c2"} {
		_, err := fx.fanout.PublishRead(context.Background(), domain.ReadMark{ConversationID: conv, ReaderID: "bob", LastReadAt: t1})
		require.NoError(t, err)
	}
	_, err := fx.fanout.PublishRead(context.Background(), domain.ReadMark{ConversationID: "c1", ReaderID: "alice", LastReadAt: t1})
	require.NoError(t, err)

	fx.fanout.ForgetReader("bob")
	fx.fanout.mu.Lock()
	assert.Len(t, fx.fanout.watermarks, 1)
	fx.fanout.mu.Unlock()

	// the guard starts over for bob
	_, err = fx.fanout.PublishRead(context.Background(), domain.ReadMark{ConversationID: "c1", ReaderID: "bob", LastReadAt: t1})
	require.NoError(t, err)
	assert.Len(t, aliceSig.ofType(domain.EventConversationRead), 3)
}
