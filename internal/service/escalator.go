package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"courier/internal/domain"
	"courier/internal/ports"
)

// EscalationResult describes what an escalation trigger produced.
type EscalationResult struct {
	Injected      int
	NoAlternative bool
	Skipped       bool // the message fully responded before the timeout was handled
}

// Escalator walks the escalation lists of a message when it could not be
// delivered or was not answered in time.
type Escalator struct {
	store          ports.MessageStore
	locker         ports.Locker
	injector       ports.Injector
	signals        ports.SignalSink
	noAltOnTimeout bool
	logger         *slog.Logger
}

// NewEscalator creates an escalator. When noAltOnTimeout is set an empty
// no-response list raises a no-alternative signal like the unreachable path does.
func NewEscalator(
	store ports.MessageStore,
	locker ports.Locker,
	injector ports.Injector,
	signals ports.SignalSink,
	noAltOnTimeout bool,
	logger *slog.Logger,
) *Escalator {
	return &Escalator{
		store:          store,
		locker:         locker,
		injector:       injector,
		signals:        signals,
		noAltOnTimeout: noAltOnTimeout,
		logger:         logger,
	}
}

// HandleUnreachable re-injects the failure-to-reach alternates matching the reason.
// An empty list raises a single no-alternative signal instead.
func (e *Escalator) HandleUnreachable(ctx context.Context, in domain.MessageWithUnreachableHandlers) (EscalationResult, error) {
	if in.Message == nil {
		return EscalationResult{}, fmt.Errorf("handle unreachable: %w: missing message", domain.ErrInvalidInput)
	}

	var candidates []domain.Message
	switch in.Reason {
	case domain.AllHandlers:
		candidates = in.Message.OnFailureToReachAll
	case domain.SomeHandlers:
		candidates = in.Message.OnFailureToReachAny
	default:
		return EscalationResult{}, fmt.Errorf("handle unreachable: %w: unknown reason %q", domain.ErrInvalidInput, in.Reason)
	}

	logger := e.logger.With("message_id", in.Message.ID, "reason", in.Reason, "candidates", len(candidates))

	if len(candidates) == 0 {
		logger.Info("no alternative for unreachable handlers")
		return EscalationResult{NoAlternative: true}, e.signals.NoAlternative(ctx, in.Message, string(in.Reason))
	}

	return e.inject(ctx, candidates, logger)
}

// HandleTimeout re-injects the no-response alternates matching the reason.
// The response state is re-read under the message lock; a message that fully
// responded in the meantime is skipped.
func (e *Escalator) HandleTimeout(ctx context.Context, in domain.TimedOutMessage) (EscalationResult, error) {
	if in.Message == nil {
		return EscalationResult{}, fmt.Errorf("handle timeout: %w: missing message", domain.ErrInvalidInput)
	}

	msg := in.Message
	unlock, err := e.locker.Lock(ctx, msg.ID)
	if err != nil {
		return EscalationResult{}, &domain.MessageError{
			MessageID: msg.ID,
			Op:        "Lock",
			Err:       fmt.Errorf("%w: %v", domain.ErrSystemFault, err),
		}
	}
	defer unlock()

	reason := in.Reason
	state, err := e.store.ResponseState(ctx, msg.ID)
	switch {
	case err == nil:
		r, fire := domain.ReasonFor(state)
		if !fire {
			e.logger.Info("message fully responded, timeout skipped", "message_id", msg.ID)
			return EscalationResult{Skipped: true}, nil
		}
		reason = r
	case errors.Is(err, domain.ErrNotFound):
	default:
		return EscalationResult{}, &domain.MessageError{
			MessageID: msg.ID,
			Op:        "ResponseState",
			Err:       fmt.Errorf("%w: %v", domain.ErrSystemFault, err),
		}
	}

	var candidates []domain.Message
	switch reason {
	case domain.NoResponses:
		candidates = msg.OnNoResponseAll
	case domain.PartialResponses:
		candidates = msg.OnNoResponseAny
	default:
		return EscalationResult{}, fmt.Errorf("handle timeout: %w: unknown reason %q", domain.ErrInvalidInput, reason)
	}

	logger := e.logger.With("message_id", msg.ID, "reason", reason, "candidates", len(candidates))

	if len(candidates) == 0 {
		if !e.noAltOnTimeout {
			logger.Debug("no alternative for timeout")
			return EscalationResult{}, nil
		}
		logger.Info("no alternative for timeout")
		return EscalationResult{NoAlternative: true}, e.signals.NoAlternative(ctx, msg, string(reason))
	}

	return e.inject(ctx, candidates, logger)
}

// inject submits a deep copy of every candidate. One failure never stops its siblings.
func (e *Escalator) inject(ctx context.Context, candidates []domain.Message, logger *slog.Logger) (EscalationResult, error) {
	var (
		result EscalationResult
		errs   []error
	)

	for i := range candidates {
		candidate := candidates[i].Clone()
		if err := e.injector.Inject(ctx, candidate); err != nil {
			logger.Error("failed to inject alternate message", "index", i, "candidate_id", candidate.ID, "error", err)
			errs = append(errs, fmt.Errorf("candidate %d: %w", i, err))
			continue
		}
		result.Injected++
	}

	logger.Info("escalation injected", "injected", result.Injected, "failed", len(errs))
	return result, errors.Join(errs...)
}
