package messaging

import (
	"context"
	"encoding/json"
	"log/slog"

	"courier/internal/domain"
)

// LogSender implements ports.Sender by logging units instead of sending them.
// It backs local runs where no gateway is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a new logging sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the unit and reports every recipient as reached.
func (s *LogSender) Send(ctx context.Context, unit domain.DeliveryUnit) (domain.SendResult, error) {
	data, err := json.MarshalIndent(unit, "", "  ")
	if err != nil {
		return domain.SendResult{}, &domain.MessageError{MessageID: unit.MessageID, Op: "send", Err: err}
	}

	s.logger.Info("sending unit",
		"message_id", unit.MessageID,
		"service_id", unit.ServiceID,
		"kind", unit.Kind,
		"address", unit.Address,
	)
	s.logger.Debug("unit payload", "payload", string(data))

	return domain.SendResult{ProviderID: domain.NewID()}, nil
}
