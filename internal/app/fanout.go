package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/app/typing"
	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

const defaultLookupTimeout = 3 * time.Second

type MessagePayload struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	Message        json.RawMessage       `json:"message"`
}

type ReadPayload struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	ReaderID       domain.UserID         `json:"readerId"`
	LastReadAt     time.Time             `json:"lastReadAt"`
}

type TypingPayload struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	UserID         domain.UserID         `json:"userId"`
}

type PostPayload struct {
	Post json.RawMessage `json:"post"`
}

type PostDeletePayload struct {
	PostID string `json:"postId"`
}

type readKey struct {
	conv   domain.ConversationID
	reader domain.UserID
}

// Fanout routes conversation events to members with a live connection and
// feed events to everyone.
type Fanout struct {
	reg     *Registry
	members core.MembershipStore
	reads   core.ReadReceiptStore
	push    *PushBridge
	metrics *Metrics

	lookupTimeout time.Duration

	mu         sync.Mutex
	watermarks map[readKey]time.Time
}

func NewFanout(reg *Registry, members core.MembershipStore, reads core.ReadReceiptStore, push *PushBridge, m *Metrics) *Fanout {
	return &Fanout{
		reg:           reg,
		members:       members,
		reads:         reads,
		push:          push,
		metrics:       m,
		lookupTimeout: defaultLookupTimeout,
		watermarks:    make(map[readKey]time.Time),
	}
}

// Publish delivers a freshly stored message to every online member and
// hands offline members other than the sender to the push bridge.
func (f *Fanout) Publish(ctx context.Context, msg domain.Message) (PublishResult, error) {
	members, err := f.members.Members(ctx, msg.ConversationID)
	if err != nil {
		return PublishResult{}, fmt.Errorf("resolve members of %s: %w", msg.ConversationID, err)
	}
	frame, err := core.Encode(domain.EventMessage, MessagePayload{ConversationID: msg.ConversationID, Message: msg.Body})
	if err != nil {
		return PublishResult{}, err
	}

	res := f.deliver(members, "", frame)
	for _, u := range res.Offline {
		if u == msg.SenderID {
			continue
		}
		f.push.Enqueue(domain.PushNotification{
			UserID:         u,
			Kind:           domain.PushMessage,
			ConversationID: msg.ConversationID,
			Title:          "New message",
			Body:           msg.Preview,
			Data: map[string]string{
				"conversationId": string(msg.ConversationID),
				"messageId":      msg.ID,
				"senderId":       string(msg.SenderID),
			},
		})
	}
	f.metrics.Delivered(domain.EventMessage, res.SentTo)
	log.Debug().Str("module", "app.fanout").Str("conversation", string(msg.ConversationID)).Int("sent_to", res.SentTo).Int("offline", len(res.Offline)).Msg("message published")
	return res, nil
}

// MarkRead persists the reader's watermark and then publishes it.
func (f *Fanout) MarkRead(ctx context.Context, mark domain.ReadMark) (PublishResult, error) {
	if err := f.reads.MarkConversationRead(ctx, mark.ConversationID, mark.ReaderID, mark.LastReadAt); err != nil {
		return PublishResult{}, fmt.Errorf("mark conversation read: %w", err)
	}
	return f.PublishRead(ctx, mark)
}

// PublishRead tells other online members that the reader has seen
// everything up to LastReadAt. A watermark that does not advance is dropped.
func (f *Fanout) PublishRead(ctx context.Context, mark domain.ReadMark) (PublishResult, error) {
	members, err := f.members.Members(ctx, mark.ConversationID)
	if err != nil {
		return PublishResult{}, fmt.Errorf("resolve members of %s: %w", mark.ConversationID, err)
	}
	frame, err := core.Encode(domain.EventConversationRead, ReadPayload{
		ConversationID: mark.ConversationID,
		ReaderID:       mark.ReaderID,
		LastReadAt:     mark.LastReadAt.UTC(),
	})
	if err != nil {
		return PublishResult{}, err
	}
	// the watermark moves only once nothing else can fail, so a retry after
	// an error is not mistaken for a stale read
	if !f.advance(mark) {
		log.Debug().Str("module", "app.fanout").Str("conversation", string(mark.ConversationID)).Str("reader", string(mark.ReaderID)).Msg("stale read watermark")
		return PublishResult{}, domain.ErrStaleRead
	}
	res := f.deliver(members, mark.ReaderID, frame)
	f.metrics.Delivered(domain.EventConversationRead, res.SentTo)
	return res, nil
}

func (f *Fanout) advance(mark domain.ReadMark) bool {
	k := readKey{conv: mark.ConversationID, reader: mark.ReaderID}
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.watermarks[k]; ok && !mark.LastReadAt.After(prev) {
		return false
	}
	f.watermarks[k] = mark.LastReadAt
	return true
}

// ForgetReader drops the in-memory watermarks of a reader who went offline.
// The store keeps the durable copy.
func (f *Fanout) ForgetReader(reader domain.UserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.watermarks {
		if k.reader == reader {
			delete(f.watermarks, k)
		}
	}
}

// PublishPost is a global broadcast, not scoped to membership.
func (f *Fanout) PublishPost(post json.RawMessage) (PublishResult, error) {
	frame, err := core.Encode(domain.EventPostNew, PostPayload{Post: post})
	if err != nil {
		return PublishResult{}, err
	}
	res := f.reg.Broadcast(frame)
	f.metrics.Delivered(domain.EventPostNew, res.SentTo)
	return res, nil
}

func (f *Fanout) PublishPostDelete(postID string) (PublishResult, error) {
	frame, err := core.Encode(domain.EventPostDelete, PostDeletePayload{PostID: postID})
	if err != nil {
		return PublishResult{}, err
	}
	res := f.reg.Broadcast(frame)
	f.metrics.Delivered(domain.EventPostDelete, res.SentTo)
	return res, nil
}

// TypingChanged relays a typing edge to the other members. It is invoked by
// the typing coordinator outside its lock and from timer goroutines. The
// membership lookup blocks, so delivery is committed against the coordinator
// to drop an edge that a newer one for the same key has overtaken.
func (f *Fanout) TypingChanged(e typing.Edge) {
	ctx, cancel := context.WithTimeout(context.Background(), f.lookupTimeout)
	defer cancel()

	members, err := f.members.Members(ctx, e.Conv)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.fanout").Str("conversation", string(e.Conv)).Msg("typing: resolve members")
		e.Commit(nil)
		return
	}
	if !slices.Contains(members, e.User) {
		log.Warn().Str("module", "app.fanout").Str("conversation", string(e.Conv)).Str("user", string(e.User)).Msg("typing: not a member")
		e.Commit(nil)
		return
	}
	event := domain.EventTypingStop
	if e.Typing {
		event = domain.EventTypingStart
	}
	frame, err := core.Encode(event, TypingPayload{ConversationID: e.Conv, UserID: e.User})
	if err != nil {
		e.Commit(nil)
		return
	}
	sent := e.Commit(func() {
		res := f.deliver(members, e.User, frame)
		f.metrics.Delivered(event, res.SentTo)
	})
	if !sent {
		log.Debug().Str("module", "app.fanout").Str("conversation", string(e.Conv)).Str("user", string(e.User)).Bool("typing", e.Typing).Msg("typing: superseded edge dropped")
	}
}

func (f *Fanout) deliver(members []domain.UserID, skip domain.UserID, frame core.Frame) PublishResult {
	res := PublishResult{}
	for _, u := range members {
		if u == skip {
			continue
		}
		switch err := f.reg.Send(u, frame); {
		case err == nil:
			res.SentTo++
		case errors.Is(err, domain.ErrUnavailable):
			res.Offline = append(res.Offline, u)
		default:
			res.Dropped = append(res.Dropped, u)
		}
	}
	return res
}
