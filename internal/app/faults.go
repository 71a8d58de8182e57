package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"courier/internal/domain"
	"courier/internal/metrics"
	"courier/internal/ports"
)

// faultFanout implements ports.FaultSink by logging and counting every fault,
// then handing it to the notifier and the fault queue when they are configured.
type faultFanout struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	notifier ports.FaultSink
	queue    ports.FaultSink
}

func (f *faultFanout) Report(ctx context.Context, fault domain.Fault) error {
	f.logger.Warn("fault",
		"server_id", fault.ServerID,
		"kind", fault.Kind,
		"message_id", fault.MessageID,
		"receiver_id", fault.ReceiverID,
		"text", fault.Text,
	)
	f.metrics.Fault(string(fault.Kind))

	var errs []error
	if f.notifier != nil {
		if err := f.notifier.Report(ctx, fault); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	if f.queue != nil {
		if err := f.queue.Report(ctx, fault); err != nil {
			errs = append(errs, fmt.Errorf("queue: %w", err))
		}
	}
	return errors.Join(errs...)
}

// signalSink implements ports.SignalSink. No-alternative signals are logged and
// counted, and published as Delivery faults when enabled.
type signalSink struct {
	serverID string
	publish  bool
	faults   ports.FaultSink
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func (s *signalSink) NoAlternative(ctx context.Context, msg *domain.Message, reason string) error {
	s.logger.Warn("no alternative", "message_id", msg.ID, "reason", reason)
	s.metrics.Escalation(reason, "no_alternative_signal")

	if !s.publish {
		return nil
	}

	err := &domain.MessageError{MessageID: msg.ID, Op: "escalate", Err: fmt.Errorf("%w: %s", domain.ErrNoAlternative, reason)}
	return s.faults.Report(ctx, domain.NewFault(s.serverID, msg, "", err))
}
