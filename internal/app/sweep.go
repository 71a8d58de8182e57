package app

import (
	"context"
	"errors"
	"time"

	"courier/internal/domain"
)

// Stats holds timeout sweep statistics.
type Stats struct {
	Claimed       int
	Escalated     int
	NoAlternative int
	Skipped       int
	Errors        int
}

// SweepTimeouts claims due response deadlines in batches and escalates each one.
func (a *App) SweepTimeouts(ctx context.Context) (Stats, error) {
	var stats Stats
	batch := a.cfg.Worker.SweepBatch
	if batch <= 0 {
		batch = 100
	}

	for {
		// A claim error still returns the readable part of the batch.
		due, claimErr := a.timeouts.ClaimDue(ctx, a.now(), batch)
		stats.Claimed += len(due)
		a.metrics.TimeoutsClaimed(len(due))

		for _, d := range due {
			select {
			case <-ctx.Done():
				a.logger.Warn("context cancelled, stopping sweep")
				return stats, ctx.Err()
			default:
			}

			res, err := a.handleTimeout(ctx, d)
			switch {
			case errors.Is(err, domain.ErrDuplicateSignal):
				stats.Skipped++
			case err != nil:
				a.logger.Error("failed to escalate timeout", "message_id", d.Message.ID, "reason", d.Reason, "error", err)
				stats.Errors++
			case res.Skipped:
				stats.Skipped++
			case res.NoAlternative:
				stats.NoAlternative++
			default:
				stats.Escalated++
			}
		}

		if claimErr != nil {
			stats.Errors++
			return stats, &domain.MessageError{Op: "ClaimDue", Err: claimErr}
		}
		if int64(len(due)) < batch {
			break
		}
	}

	if stats.Claimed > 0 {
		a.logger.Info("sweep completed",
			"claimed", stats.Claimed,
			"escalated", stats.Escalated,
			"no_alternative", stats.NoAlternative,
			"skipped", stats.Skipped,
			"errors", stats.Errors,
		)
	}
	return stats, nil
}

// Source yields queued message envelopes.
type Source interface {
	// Pop waits up to timeout for the next entry; nil data means nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// ConsumeQueue submits queued envelopes until ctx is done.
func (a *App) ConsumeQueue(ctx context.Context, src Source) {
	a.logger.Info("queue consumer started")
	for {
		if ctx.Err() != nil {
			a.logger.Info("queue consumer stopped")
			return
		}

		data, err := src.Pop(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			a.logger.Error("failed to pop queue", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if data == nil {
			continue
		}

		msg, err := domain.Decode(data)
		if err != nil {
			a.logger.Error("dropping malformed envelope", "error", err)
			a.reportFault(ctx, nil, err)
			continue
		}

		if _, err := a.Submit(ctx, msg); err != nil {
			a.logger.Error("failed to submit queued message", "message_id", msg.ID, "error", err)
		}
	}
}
