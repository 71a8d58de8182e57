package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"courier/internal/domain"
)

const (
	fieldMessageID   = "message_id"
	fieldRecipientID = "recipient_id"
)

// Store implements ports.MessageStore using Redis.
// Every key expires after the configured TTL.
type Store struct {
	client *Client
	ttl    time.Duration
}

// NewStore creates a new message store with the given TTL.
func NewStore(client *Client, ttl time.Duration) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
	}
}

// SaveMessage stores a message as version 1 together with its response total.
func (s *Store) SaveMessage(ctx context.Context, msg *domain.Message) error {
	stored := msg.Clone()
	stored.Version = 1

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	_, err = s.client.Native().TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, messageKey(msg.ID), data, s.ttl)
		p.Set(ctx, totalKey(msg.ID), msg.AddressedRecipients(), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	msg.Version = 1
	return nil
}

// UpdateMessage replaces a message when the stored version matches msg.Version.
func (s *Store) UpdateMessage(ctx context.Context, msg *domain.Message) error {
	key := messageKey(msg.ID)

	err := s.client.Native().Watch(ctx, func(tx *redis.Tx) error {
		cur, err := getMessage(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Version != msg.Version {
			return domain.ErrVersionConflict
		}

		next := msg.Clone()
		next.Version++
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		msg.Version++
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return domain.ErrVersionConflict
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrNotFound):
		return err
	default:
		return fmt.Errorf("update message: %w", err)
	}
}

// GetMessageByID retrieves a message by id.
func (s *Store) GetMessageByID(ctx context.Context, id string) (*domain.Message, error) {
	msg, err := getMessage(ctx, s.client.Native(), messageKey(id))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, err
}

// MessageExists reports whether a message id is stored.
func (s *Store) MessageExists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Native().Exists(ctx, messageKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("message exists: %w", err)
	}
	return n > 0, nil
}

// DeleteMessage removes a message, its response tracking and its references.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	refs, err := s.client.Native().SMembers(ctx, messageRefsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("list references: %w", err)
	}

	keys := []string{messageKey(id), messageRefsKey(id), totalKey(id), respondedKey(id)}
	if err := s.client.Del(ctx, keys...); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	for _, ref := range refs {
		if err := s.client.Del(ctx, referenceKey(ref)); err != nil {
			return fmt.Errorf("delete reference %s: %w", ref, err)
		}
	}
	return nil
}

// SaveMessageReference maps a reference to a message recipient.
func (s *Store) SaveMessageReference(ctx context.Context, messageID, recipientID, ref string) error {
	rdb := s.client.Native()

	if _, err := rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, referenceKey(ref), fieldMessageID, messageID, fieldRecipientID, recipientID)
		p.Expire(ctx, referenceKey(ref), s.ttl)
		return nil
	}); err != nil {
		return fmt.Errorf("save reference: %w", err)
	}

	if _, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, messageRefsKey(messageID), ref)
		p.Expire(ctx, messageRefsKey(messageID), s.ttl)
		return nil
	}); err != nil {
		return fmt.Errorf("index reference: %w", err)
	}
	return nil
}

// GetMessageByReference retrieves the message a reference belongs to.
func (s *Store) GetMessageByReference(ctx context.Context, ref string) (*domain.Message, error) {
	id, err := s.referenceField(ctx, ref, fieldMessageID)
	if err != nil {
		return nil, err
	}
	return s.GetMessageByID(ctx, id)
}

// GetRecipientIDByReference retrieves the recipient id a reference belongs to.
func (s *Store) GetRecipientIDByReference(ctx context.Context, ref string) (string, error) {
	return s.referenceField(ctx, ref, fieldRecipientID)
}

func (s *Store) referenceField(ctx context.Context, ref, field string) (string, error) {
	v, err := s.client.Native().HGet(ctx, referenceKey(ref), field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("get reference: %w", err)
	}
	return v, nil
}

// SaveConversation records a conversation.
func (s *Store) SaveConversation(ctx context.Context, conv domain.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := s.client.Set(ctx, conversationKey(conv.ID), string(data), s.ttl); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// GetConversationByID retrieves a conversation by id.
func (s *Store) GetConversationByID(ctx context.Context, id string) (*domain.Conversation, error) {
	data, err := s.client.Get(ctx, conversationKey(id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	var conv domain.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return &conv, nil
}

// IsKnownConversation reports whether a conversation id has been recorded.
func (s *Store) IsKnownConversation(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Native().Exists(ctx, conversationKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("conversation exists: %w", err)
	}
	return n > 0, nil
}

// RecordResponse adds a recipient to the responded set of a message.
func (s *Store) RecordResponse(ctx context.Context, messageID, recipientID string) (domain.ResponseState, error) {
	total, err := s.total(ctx, messageID)
	if err != nil {
		return domain.ResponseState{}, err
	}

	var card *redis.IntCmd
	if _, err := s.client.Native().TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, respondedKey(messageID), recipientID)
		p.Expire(ctx, respondedKey(messageID), s.ttl)
		card = p.SCard(ctx, respondedKey(messageID))
		return nil
	}); err != nil {
		return domain.ResponseState{}, fmt.Errorf("record response: %w", err)
	}

	return domain.ResponseState{Total: total, Responded: int(card.Val())}, nil
}

// ResponseState returns the response counts of a message.
func (s *Store) ResponseState(ctx context.Context, messageID string) (domain.ResponseState, error) {
	total, err := s.total(ctx, messageID)
	if err != nil {
		return domain.ResponseState{}, err
	}

	n, err := s.client.Native().SCard(ctx, respondedKey(messageID)).Result()
	if err != nil {
		return domain.ResponseState{}, fmt.Errorf("response state: %w", err)
	}
	return domain.ResponseState{Total: total, Responded: int(n)}, nil
}

func (s *Store) total(ctx context.Context, messageID string) (int, error) {
	v, err := s.client.Get(ctx, totalKey(messageID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("get response total: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse response total: %w", err)
	}
	return n, nil
}

func getMessage(ctx context.Context, rdb redis.Cmdable, key string) (*domain.Message, error) {
	data, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}
