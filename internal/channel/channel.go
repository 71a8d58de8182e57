// Package channel turns validated messages into per-channel delivery units.
package channel

import (
	"context"
	"fmt"
	"log/slog"

	"courier/internal/domain"
	"courier/internal/ports"
)

// Preparer builds the delivery units of one channel.
type Preparer interface {
	// ServiceID returns the channel key the preparer handles.
	ServiceID() string

	// Prepare returns the units to send and one reference per recipient of the channel.
	// References are persisted only when the message asks for receipt notification.
	Prepare(ctx context.Context, msg *domain.Message) ([]domain.DeliveryUnit, map[string]string, error)
}

// Registry dispatches on service id.
type Registry struct {
	preparers map[string]Preparer
}

// NewRegistry creates a registry holding the given preparers.
func NewRegistry(preparers ...Preparer) *Registry {
	r := &Registry{preparers: make(map[string]Preparer, len(preparers))}
	for _, p := range preparers {
		r.preparers[p.ServiceID()] = p
	}
	return r
}

// NewDefaultRegistry wires the chat, email, SMS, voice and alert preparers.
func NewDefaultRegistry(store ports.MessageStore, groupSuffix string, logger *slog.Logger) *Registry {
	return NewRegistry(
		NewChatPreparer(store, groupSuffix, logger.With("channel", domain.ServiceChat)),
		NewEmailPreparer(store, logger.With("channel", domain.ServiceEmail)),
		NewSinglePreparer(domain.ServiceSMS, store, logger.With("channel", domain.ServiceSMS)),
		NewSinglePreparer(domain.ServiceVoice, store, logger.With("channel", domain.ServiceVoice)),
		NewSinglePreparer(domain.ServiceAlert, store, logger.With("channel", domain.ServiceAlert)),
	)
}

// Get returns the preparer for a service id.
func (r *Registry) Get(serviceID string) (Preparer, bool) {
	p, ok := r.preparers[serviceID]
	return p, ok
}

// base holds the steps shared by every preparer.
type base struct {
	serviceID string
	store     ports.MessageStore
	logger    *slog.Logger
}

func (b base) ServiceID() string {
	return b.serviceID
}

// recipients filters the message recipients down to those addressed on this channel.
func (b base) recipients(msg *domain.Message) ([]domain.Recipient, error) {
	var out []domain.Recipient
	for _, r := range msg.Recipients {
		if r.Address.IsPhysical() && r.Address.ServiceID == b.serviceID {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, &domain.MessageError{
			MessageID: msg.ID,
			Op:        "Prepare" + b.serviceID,
			Err:       fmt.Errorf("%w: no %s recipients", domain.ErrInvalidContext, b.serviceID),
		}
	}
	return out, nil
}

// references generates one reference per recipient and persists them when
// the message asks for receipt notification.
func (b base) references(ctx context.Context, msg *domain.Message, recipients []domain.Recipient) (map[string]string, error) {
	refs := make(map[string]string, len(recipients))
	for _, r := range recipients {
		refs[r.ID] = domain.NewID()
	}

	if !msg.ReceiptNotification {
		return refs, nil
	}

	for _, r := range recipients {
		if err := b.store.SaveMessageReference(ctx, msg.ID, r.ID, refs[r.ID]); err != nil {
			return nil, &domain.MessageError{
				MessageID:   msg.ID,
				RecipientID: r.ID,
				Op:          "SaveMessageReference",
				Err:         fmt.Errorf("%w: %v", domain.ErrSystemFault, err),
			}
		}
	}

	b.logger.Debug("references persisted", "message_id", msg.ID, "count", len(refs))
	return refs, nil
}

// bodyFor picks the body part for one recipient: a part tagged with the
// recipient id wins, then a part tagged with the service id, then the first untagged part.
func bodyFor(msg *domain.Message, recipientID, serviceID string) domain.MessageBody {
	var byService, untagged *domain.MessageBody
	for i := range msg.Parts {
		part := &msg.Parts[i]
		if id, ok := part.RecipientTarget(); ok {
			if id == recipientID {
				return *part
			}
			continue
		}
		if svc, ok := part.ServiceTarget(); ok {
			if svc == serviceID && byService == nil {
				byService = part
			}
			continue
		}
		if untagged == nil {
			untagged = part
		}
	}

	switch {
	case byService != nil:
		return *byService
	case untagged != nil:
		return *untagged
	default:
		return domain.MessageBody{}
	}
}

func senderAddress(msg *domain.Message) string {
	if msg.Sender == nil {
		return ""
	}
	return msg.Sender.Address
}

func refsFor(refs map[string]string, ids ...string) map[string]string {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = refs[id]
	}
	return out
}
