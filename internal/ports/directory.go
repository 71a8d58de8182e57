package ports

import (
	"context"

	"courier/internal/domain"
)

// Directory resolves logical user addresses to contact information.
type Directory interface {
	// ResolveUser returns contact info for an unresolved address, or domain.ErrNotFound.
	ResolveUser(ctx context.Context, address string) (*domain.UserContactInfo, error)
}
