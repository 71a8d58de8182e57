package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"courier/internal/domain"
)

type messageReader interface {
	GetMessageByID(ctx context.Context, id string) (*domain.Message, error)
	ResponseState(ctx context.Context, messageID string) (domain.ResponseState, error)
}

// Scheduler implements ports.Scheduler and ports.TimeoutSource in memory.
type Scheduler struct {
	store messageReader
	now   func() time.Time

	mu        sync.Mutex
	deadlines map[string]time.Time
}

// NewScheduler creates a scheduler that reads messages and response state from store.
func NewScheduler(store messageReader, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{store: store, now: now, deadlines: make(map[string]time.Time)}
}

// ArmResponseTimeout implements ports.Scheduler.
func (s *Scheduler) ArmResponseTimeout(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines[msg.ID] = s.now().Add(time.Duration(msg.RespondBy) * time.Second)
	return nil
}

// CancelResponseTimeout implements ports.Scheduler.
func (s *Scheduler) CancelResponseTimeout(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadlines, messageID)
	return nil
}

// Armed reports whether a timeout is armed for the message.
func (s *Scheduler) Armed(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.deadlines[messageID]
	return ok
}

// ClaimDue implements ports.TimeoutSource. Deadlines of deleted messages are
// dropped; a deadline whose message cannot be read is re-armed and reported.
func (s *Scheduler) ClaimDue(ctx context.Context, now time.Time, limit int64) ([]domain.TimedOutMessage, error) {
	s.mu.Lock()
	var due []string
	for id, at := range s.deadlines {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return s.deadlines[due[i]].Before(s.deadlines[due[j]]) })
	if limit > 0 && int64(len(due)) > limit {
		due = due[:limit]
	}
	claimed := make(map[string]time.Time, len(due))
	for _, id := range due {
		claimed[id] = s.deadlines[id]
		delete(s.deadlines, id)
	}
	s.mu.Unlock()

	var (
		out  []domain.TimedOutMessage
		errs []error
	)
	for _, id := range due {
		timedOut, err := s.load(ctx, id)
		if err != nil {
			s.rearm(id, claimed[id])
			errs = append(errs, fmt.Errorf("load timeout %s: %w", id, err))
			continue
		}
		if timedOut != nil {
			out = append(out, *timedOut)
		}
	}
	return out, errors.Join(errs...)
}

func (s *Scheduler) load(ctx context.Context, id string) (*domain.TimedOutMessage, error) {
	msg, err := s.store.GetMessageByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state, err := s.store.ResponseState(ctx, id)
	if err != nil {
		return nil, err
	}
	reason, fire := domain.ReasonFor(state)
	if !fire {
		return nil, nil
	}
	return &domain.TimedOutMessage{Message: msg, Reason: reason}, nil
}

// rearm restores a claimed deadline unless the message was re-armed meanwhile.
func (s *Scheduler) rearm(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deadlines[id]; !ok {
		s.deadlines[id] = at
	}
}
