package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"courier/internal/domain"
)

// messageReader is the part of a message store the scheduler needs to build timeouts.
type messageReader interface {
	GetMessageByID(ctx context.Context, id string) (*domain.Message, error)
	ResponseState(ctx context.Context, messageID string) (domain.ResponseState, error)
}

// TimeoutScheduler implements ports.Scheduler and ports.TimeoutSource on a sorted set
// scored by deadline in unix milliseconds.
type TimeoutScheduler struct {
	client *Client
	store  messageReader
	now    func() time.Time
	logger *slog.Logger
}

// NewTimeoutScheduler creates a new scheduler backed by the given store.
func NewTimeoutScheduler(client *Client, store messageReader, logger *slog.Logger) *TimeoutScheduler {
	return &TimeoutScheduler{
		client: client,
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// ArmResponseTimeout schedules the response deadline of a message.
func (s *TimeoutScheduler) ArmResponseTimeout(ctx context.Context, msg *domain.Message) error {
	deadline := s.now().Add(time.Duration(msg.RespondBy) * time.Second)
	err := s.client.Native().ZAdd(ctx, KeyTimeouts, redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: msg.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("arm timeout: %w", err)
	}
	return nil
}

// CancelResponseTimeout removes a pending deadline. Unknown ids are ignored.
func (s *TimeoutScheduler) CancelResponseTimeout(ctx context.Context, messageID string) error {
	if err := s.client.Native().ZRem(ctx, KeyTimeouts, messageID).Err(); err != nil {
		return fmt.Errorf("cancel timeout: %w", err)
	}
	return nil
}

// ClaimDue removes up to limit expired deadlines and returns the messages that are
// still missing responses. A deadline is claimed by whoever removes it first.
// A deadline whose message cannot be read is put back with its original score
// and reported in the returned error; the rest of the batch is still returned.
func (s *TimeoutScheduler) ClaimDue(ctx context.Context, now time.Time, limit int64) ([]domain.TimedOutMessage, error) {
	rdb := s.client.Native()

	entries, err := rdb.ZRangeByScoreWithScores(ctx, KeyTimeouts, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due timeouts: %w", err)
	}

	var (
		due  []domain.TimedOutMessage
		errs []error
	)
	for _, entry := range entries {
		id, ok := entry.Member.(string)
		if !ok {
			continue
		}

		n, err := rdb.ZRem(ctx, KeyTimeouts, id).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("claim timeout %s: %w", id, err))
			continue
		}
		if n == 0 {
			continue
		}

		timedOut, err := s.load(ctx, id)
		if err != nil {
			s.logger.Error("failed to load timed out message, re-arming", "message_id", id, "error", err)
			errs = append(errs, s.rearm(ctx, id, entry.Score, err))
			continue
		}
		if timedOut != nil {
			due = append(due, *timedOut)
		}
	}

	return due, errors.Join(errs...)
}

// load builds the timeout for a claimed id. It returns nil when the message is
// gone or has fully responded.
func (s *TimeoutScheduler) load(ctx context.Context, id string) (*domain.TimedOutMessage, error) {
	msg, err := s.store.GetMessageByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("timed out message no longer stored", "message_id", id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state, err := s.store.ResponseState(ctx, id)
	if err != nil {
		return nil, err
	}

	reason, ok := domain.ReasonFor(state)
	if !ok {
		return nil, nil
	}
	return &domain.TimedOutMessage{Message: msg, Reason: reason}, nil
}

func (s *TimeoutScheduler) rearm(ctx context.Context, id string, score float64, cause error) error {
	cause = fmt.Errorf("load timeout %s: %w", id, cause)
	if err := s.client.Native().ZAdd(context.WithoutCancel(ctx), KeyTimeouts, redis.Z{Score: score, Member: id}).Err(); err != nil {
		return errors.Join(cause, fmt.Errorf("re-arm timeout %s: %w", id, err))
	}
	return cause
}

// Pending returns the number of armed deadlines.
func (s *TimeoutScheduler) Pending(ctx context.Context) (int64, error) {
	return s.client.Native().ZCard(ctx, KeyTimeouts).Result()
}
