package ports

import (
	"context"
	"time"

	"courier/internal/domain"
)

// Scheduler arms and cancels response timeouts.
type Scheduler interface {
	// ArmResponseTimeout schedules a timeout for the message at now + RespondBy.
	ArmResponseTimeout(ctx context.Context, msg *domain.Message) error

	// CancelResponseTimeout removes an armed timeout. Cancelling an unknown id is a no-op.
	CancelResponseTimeout(ctx context.Context, messageID string) error
}

// TimeoutSource yields timeouts whose deadline has passed.
type TimeoutSource interface {
	// ClaimDue removes and returns up to limit timeouts due at now.
	// Each armed timeout is returned at most once across all callers. Timeouts
	// that cannot be read are re-armed and reported in the error, alongside
	// the ones that could.
	ClaimDue(ctx context.Context, now time.Time, limit int64) ([]domain.TimedOutMessage, error)
}
