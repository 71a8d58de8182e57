package ports

import (
	"context"

	"courier/internal/domain"
)

// MessageStore persists messages, their references and conversations.
//
// Lookups return domain.ErrNotFound when nothing is stored under the key.
type MessageStore interface {
	// SaveMessage stores a new message. The response state total is set to the
	// number of addressed recipients at this point.
	SaveMessage(ctx context.Context, msg *domain.Message) error

	// UpdateMessage replaces a stored message when its version still matches.
	// On success the version is incremented; a stale version yields domain.ErrVersionConflict.
	UpdateMessage(ctx context.Context, msg *domain.Message) error

	// GetMessageByID retrieves a message by id.
	GetMessageByID(ctx context.Context, id string) (*domain.Message, error)

	// MessageExists reports whether a message id is already taken.
	MessageExists(ctx context.Context, id string) (bool, error)

	// DeleteMessage removes a message and every reference pointing at it.
	DeleteMessage(ctx context.Context, id string) error

	// SaveMessageReference maps a reference to a message and one of its recipients.
	SaveMessageReference(ctx context.Context, messageID, recipientID, ref string) error

	// GetMessageByReference retrieves the message a reference belongs to.
	GetMessageByReference(ctx context.Context, ref string) (*domain.Message, error)

	// GetRecipientIDByReference retrieves the recipient id a reference belongs to.
	GetRecipientIDByReference(ctx context.Context, ref string) (string, error)

	// SaveConversation records a conversation, replacing its last message id.
	SaveConversation(ctx context.Context, conv domain.Conversation) error

	// GetConversationByID retrieves a conversation by id.
	GetConversationByID(ctx context.Context, id string) (*domain.Conversation, error)

	// IsKnownConversation reports whether a conversation id has been recorded.
	IsKnownConversation(ctx context.Context, id string) (bool, error)

	// RecordResponse marks a recipient of a message as having responded.
	// Recording the same recipient twice counts once.
	RecordResponse(ctx context.Context, messageID, recipientID string) (domain.ResponseState, error)

	// ResponseState returns how many addressed recipients have responded.
	ResponseState(ctx context.Context, messageID string) (domain.ResponseState, error)
}

// Locker serializes work on a single key across workers.
type Locker interface {
	// Lock acquires the lock for key, retrying until ctx is done.
	// The returned function releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
