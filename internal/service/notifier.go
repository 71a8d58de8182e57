package service

import (
	"context"
	"fmt"
	"log/slog"

	"courier/internal/domain"
	"courier/internal/ports"
)

// Notifier turns faults into notification messages to the original sender.
type Notifier struct {
	injector ports.Injector
	renderer ports.TemplateRenderer
	logger   *slog.Logger
}

// NewNotifier creates a notifier that renders bodies with renderer.
func NewNotifier(injector ports.Injector, renderer ports.TemplateRenderer, logger *slog.Logger) *Notifier {
	return &Notifier{
		injector: injector,
		renderer: renderer,
		logger:   logger,
	}
}

// Report implements ports.FaultSink. Faults without a sender are dropped.
func (n *Notifier) Report(ctx context.Context, fault domain.Fault) error {
	if fault.Sender == nil || !fault.Sender.IsPhysical() {
		n.logger.Debug("fault has no sender to notify", "message_id", fault.MessageID, "kind", fault.Kind)
		return nil
	}

	body, err := n.renderer.Render(string(fault.Kind), map[string]any{
		"ServerID":   fault.ServerID,
		"Kind":       string(fault.Kind),
		"Text":       fault.Text,
		"MessageID":  fault.MessageID,
		"ReceiverID": fault.ReceiverID,
		"At":         fault.At,
	})
	if err != nil {
		return fmt.Errorf("render notification: %w", err)
	}

	addr := fault.Sender.Clone()
	msg := &domain.Message{
		Kind:    domain.KindMessage,
		Subject: fmt.Sprintf("Delivery problem: %s", fault.Kind),
		Recipients: []domain.Recipient{
			{Address: addr},
		},
		Parts: []domain.MessageBody{{Content: body, ContentType: "text/plain"}},
	}
	if fault.MessageID != "" {
		msg.RelatedMessageID = fault.MessageID
	}

	if err := n.injector.Inject(ctx, msg); err != nil {
		return fmt.Errorf("inject notification: %w", err)
	}

	n.logger.Info("fault notification queued", "message_id", fault.MessageID, "kind", fault.Kind)
	return nil
}
