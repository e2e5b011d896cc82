// Package memory is an in-process stand-in for the relational store, used
// in development mode and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
)

type Store struct {
	mu      sync.RWMutex
	members map[domain.ConversationID][]domain.UserID
	blocks  map[domain.UserID]map[domain.UserID]bool
	reads   map[domain.ConversationID]map[domain.UserID]time.Time
	subs    map[domain.UserID][]domain.PushSubscription
}

func NewStore() *Store {
	return &Store{
		members: make(map[domain.ConversationID][]domain.UserID),
		blocks:  make(map[domain.UserID]map[domain.UserID]bool),
		reads:   make(map[domain.ConversationID]map[domain.UserID]time.Time),
		subs:    make(map[domain.UserID][]domain.PushSubscription),
	}
}

func (s *Store) SetMembers(conv domain.ConversationID, users ...domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[conv] = append([]domain.UserID(nil), users...)
}

func (s *Store) Members(_ context.Context, conv domain.ConversationID) ([]domain.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.UserID(nil), s.members[conv]...), nil
}

func (s *Store) Block(blocker, blocked domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocks[blocker] == nil {
		s.blocks[blocker] = make(map[domain.UserID]bool)
	}
	s.blocks[blocker][blocked] = true
}

func (s *Store) IsBlocked(_ context.Context, blocker, blocked domain.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[blocker][blocked], nil
}

// MarkConversationRead keeps the greatest watermark seen.
func (s *Store) MarkConversationRead(_ context.Context, conv domain.ConversationID, reader domain.UserID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reads[conv] == nil {
		s.reads[conv] = make(map[domain.UserID]time.Time)
	}
	if at.After(s.reads[conv][reader]) {
		s.reads[conv][reader] = at
	}
	return nil
}

func (s *Store) LastRead(conv domain.ConversationID, reader domain.UserID) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads[conv][reader]
}

func (s *Store) AddSubscription(user domain.UserID, sub domain.PushSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[user] = append(s.subs[user], sub)
}

func (s *Store) Subscriptions(_ context.Context, user domain.UserID) ([]domain.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.PushSubscription(nil), s.subs[user]...), nil
}
