package channel

import (
	"context"
	"log/slog"

	"courier/internal/domain"
	"courier/internal/ports"
)

// SinglePreparer emits one unit per recipient. It serves SMS, voice and alert channels.
type SinglePreparer struct {
	base
}

// NewSinglePreparer creates a one-unit-per-recipient preparer for serviceID.
func NewSinglePreparer(serviceID string, store ports.MessageStore, logger *slog.Logger) *SinglePreparer {
	return &SinglePreparer{base{serviceID: serviceID, store: store, logger: logger}}
}

// Prepare implements Preparer.
func (p *SinglePreparer) Prepare(ctx context.Context, msg *domain.Message) ([]domain.DeliveryUnit, map[string]string, error) {
	recipients, err := p.recipients(msg)
	if err != nil {
		return nil, nil, err
	}

	refs, err := p.references(ctx, msg, recipients)
	if err != nil {
		return nil, nil, err
	}

	units := make([]domain.DeliveryUnit, 0, len(recipients))
	for _, r := range recipients {
		units = append(units, domain.DeliveryUnit{
			MessageID:    msg.ID,
			ServiceID:    p.serviceID,
			Kind:         domain.UnitSingle,
			Sender:       senderAddress(msg),
			Address:      r.Address.Address,
			Subject:      msg.Subject,
			Body:         bodyFor(msg, r.ID, p.serviceID),
			RecipientIDs: []string{r.ID},
			References:   refsFor(refs, r.ID),
		})
	}

	return units, refs, nil
}
