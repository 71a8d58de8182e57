// Package memory provides in-process implementations of the ports, used by
// tests and by local runs without Redis.
package memory

import (
	"context"
	"sync"

	"courier/internal/domain"
)

type reference struct {
	messageID   string
	recipientID string
}

// Store implements ports.MessageStore in memory.
type Store struct {
	mu            sync.RWMutex
	messages      map[string]*domain.Message
	refs          map[string]reference
	conversations map[string]domain.Conversation
	totals        map[string]int
	responded     map[string]map[string]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		messages:      make(map[string]*domain.Message),
		refs:          make(map[string]reference),
		conversations: make(map[string]domain.Conversation),
		totals:        make(map[string]int),
		responded:     make(map[string]map[string]struct{}),
	}
}

// SaveMessage implements ports.MessageStore.
func (s *Store) SaveMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := msg.Clone()
	c.Version = 1
	msg.Version = 1
	s.messages[msg.ID] = c
	s.totals[msg.ID] = msg.AddressedRecipients()
	return nil
}

// UpdateMessage implements ports.MessageStore.
func (s *Store) UpdateMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.messages[msg.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != msg.Version {
		return domain.ErrVersionConflict
	}

	msg.Version++
	s.messages[msg.ID] = msg.Clone()
	return nil
}

// GetMessageByID implements ports.MessageStore.
func (s *Store) GetMessageByID(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return msg.Clone(), nil
}

// MessageExists implements ports.MessageStore.
func (s *Store) MessageExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.messages[id]
	return ok, nil
}

// DeleteMessage implements ports.MessageStore.
func (s *Store) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, id)
	delete(s.totals, id)
	delete(s.responded, id)
	for ref, r := range s.refs {
		if r.messageID == id {
			delete(s.refs, ref)
		}
	}
	return nil
}

// SaveMessageReference implements ports.MessageStore.
func (s *Store) SaveMessageReference(_ context.Context, messageID, recipientID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs[ref] = reference{messageID: messageID, recipientID: recipientID}
	return nil
}

// GetMessageByReference implements ports.MessageStore.
func (s *Store) GetMessageByReference(ctx context.Context, ref string) (*domain.Message, error) {
	s.mu.RLock()
	r, ok := s.refs[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.GetMessageByID(ctx, r.messageID)
}

// GetRecipientIDByReference implements ports.MessageStore.
func (s *Store) GetRecipientIDByReference(_ context.Context, ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.refs[ref]
	if !ok {
		return "", domain.ErrNotFound
	}
	return r.recipientID, nil
}

// SaveConversation implements ports.MessageStore.
func (s *Store) SaveConversation(_ context.Context, conv domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.conversations[conv.ID]; ok && conv.CreatedAt.IsZero() {
		conv.CreatedAt = existing.CreatedAt
	}
	s.conversations[conv.ID] = conv
	return nil
}

// GetConversationByID implements ports.MessageStore.
func (s *Store) GetConversationByID(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &conv, nil
}

// IsKnownConversation implements ports.MessageStore.
func (s *Store) IsKnownConversation(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.conversations[id]
	return ok, nil
}

// RecordResponse implements ports.MessageStore.
func (s *Store) RecordResponse(_ context.Context, messageID, recipientID string) (domain.ResponseState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total, ok := s.totals[messageID]
	if !ok {
		return domain.ResponseState{}, domain.ErrNotFound
	}
	set, ok := s.responded[messageID]
	if !ok {
		set = make(map[string]struct{})
		s.responded[messageID] = set
	}
	set[recipientID] = struct{}{}
	return domain.ResponseState{Total: total, Responded: len(set)}, nil
}

// ResponseState implements ports.MessageStore.
func (s *Store) ResponseState(_ context.Context, messageID string) (domain.ResponseState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total, ok := s.totals[messageID]
	if !ok {
		return domain.ResponseState{}, domain.ErrNotFound
	}
	return domain.ResponseState{Total: total, Responded: len(s.responded[messageID])}, nil
}

// References returns the number of stored references.
func (s *Store) References() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refs)
}
