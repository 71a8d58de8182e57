package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common conditions.
var (
	ErrNotFound        = errors.New("not found")
	ErrNoMatch         = errors.New("no match")
	ErrVersionConflict = errors.New("version conflict")
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrDuplicateSignal = errors.New("duplicate signal")
	ErrNoAlternative   = errors.New("no alternative message")
)

// Error kinds funnelled into faults.
var (
	ErrInvalidMessage      = errors.New("invalid message")
	ErrUnknownConversation = fmt.Errorf("unknown conversation: %w", ErrInvalidMessage)
	ErrInvalidAddress      = errors.New("invalid address")
	ErrUnknownUser         = fmt.Errorf("unknown user: %w", ErrInvalidAddress)
	ErrUnknownService      = fmt.Errorf("unknown service: %w", ErrInvalidAddress)
	ErrInvalidContext      = errors.New("invalid context")
	ErrInvalidInput        = errors.New("invalid input")
	ErrSystemFault         = errors.New("system fault")
	ErrDelivery            = errors.New("delivery failed")
)

// MessageError represents an error tied to one message and, optionally, one recipient.
type MessageError struct {
	MessageID   string
	RecipientID string
	Op          string // operation that failed
	Err         error  // underlying error
}

func (e *MessageError) Error() string {
	if e.RecipientID != "" {
		return fmt.Sprintf("%s: message=%s recipient=%s: %v", e.Op, e.MessageID, e.RecipientID, e.Err)
	}
	return fmt.Sprintf("%s: message=%s: %v", e.Op, e.MessageID, e.Err)
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

// DuplicateIDError lists message ids that collide within a message tree or with the store.
type DuplicateIDError struct {
	IDs []string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate message ids: %s", strings.Join(e.IDs, ", "))
}

func (e *DuplicateIDError) Unwrap() error {
	return ErrInvalidMessage
}

// ConfigError represents a configuration-related error.
type ConfigError struct {
	ConfigName string
	Field      string
	Err        error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s: field %s: %v", e.ConfigName, e.Field, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.ConfigName, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
