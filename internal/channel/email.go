package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"courier/internal/domain"
	"courier/internal/ports"
)

// SubjectMarker formats the marker appended to email subjects so replies can be correlated.
func SubjectMarker(messageID string) string {
	return fmt.Sprintf("::[%s]", messageID)
}

// EmailPreparer emits one unit per distinct body, listing its recipients comma-joined.
type EmailPreparer struct {
	base
}

// NewEmailPreparer creates the email preparer.
func NewEmailPreparer(store ports.MessageStore, logger *slog.Logger) *EmailPreparer {
	return &EmailPreparer{base{serviceID: domain.ServiceEmail, store: store, logger: logger}}
}

// Prepare implements Preparer.
func (p *EmailPreparer) Prepare(ctx context.Context, msg *domain.Message) ([]domain.DeliveryUnit, map[string]string, error) {
	recipients, err := p.recipients(msg)
	if err != nil {
		return nil, nil, err
	}

	refs, err := p.references(ctx, msg, recipients)
	if err != nil {
		return nil, nil, err
	}

	subject := msg.Subject + SubjectMarker(msg.ID)

	var units []domain.DeliveryUnit
	index := make(map[domain.MessageBody]int)
	for _, r := range recipients {
		body := bodyFor(msg, r.ID, p.serviceID)
		i, ok := index[body]
		if !ok {
			i = len(units)
			index[body] = i
			units = append(units, domain.DeliveryUnit{
				MessageID:  msg.ID,
				ServiceID:  p.serviceID,
				Kind:       domain.UnitMail,
				Sender:     senderAddress(msg),
				Subject:    subject,
				Body:       body,
				References: map[string]string{},
			})
		}
		units[i].Participants = append(units[i].Participants, r.Address.Address)
		units[i].RecipientIDs = append(units[i].RecipientIDs, r.ID)
		units[i].References[r.ID] = refs[r.ID]
	}

	for i := range units {
		units[i].Address = strings.Join(units[i].Participants, ",")
	}

	return units, refs, nil
}
