package domain

import "github.com/google/uuid"

// NewID returns a fresh globally unique identifier.
func NewID() string {
	return uuid.New().String()
}
