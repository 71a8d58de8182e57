package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"courier/internal/domain"
	"courier/internal/ports"
)

const maxUpdateAttempts = 5

// Tracker appends delivery statuses reported by channel adapters.
type Tracker struct {
	store  ports.MessageStore
	locker ports.Locker
	now    func() time.Time
	logger *slog.Logger
}

// NewTracker creates a status tracker. Updates are serialized per message id
// through locker and written with the store's version check.
func NewTracker(store ports.MessageStore, locker ports.Locker, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		locker: locker,
		now:    time.Now,
		logger: logger,
	}
}

// UpdateStatus appends one status per reference to the message they all belong to.
// An unknown reference yields domain.ErrNoMatch and references spanning several
// messages yield domain.ErrInvalidMessage; in both cases nothing is written.
func (t *Tracker) UpdateStatus(ctx context.Context, refs []string, action, status string) (*domain.Message, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("update status: %w: no references", domain.ErrInvalidInput)
	}

	messageID, recipientIDs, err := t.resolveRefs(ctx, refs)
	if err != nil {
		return nil, err
	}

	logger := t.logger.With("message_id", messageID, "references", len(refs))

	unlock, err := t.locker.Lock(ctx, messageID)
	if err != nil {
		return nil, &domain.MessageError{
			MessageID: messageID,
			Op:        "Lock",
			Err:       fmt.Errorf("%w: %v", domain.ErrSystemFault, err),
		}
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		msg, err := t.store.GetMessageByID(ctx, messageID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, &domain.MessageError{MessageID: messageID, Op: "UpdateStatus", Err: domain.ErrNoMatch}
			}
			return nil, &domain.MessageError{
				MessageID: messageID,
				Op:        "GetMessageByID",
				Err:       fmt.Errorf("%w: %v", domain.ErrSystemFault, err),
			}
		}

		ts := t.now().UTC()
		for _, rid := range recipientIDs {
			snapshot := domain.Recipient{ID: rid}
			if r := msg.FindRecipient(rid); r != nil {
				snapshot.Address = r.Address.Clone()
			}
			msg.AppendStatus(domain.DeliveryStatus{
				ID:        domain.NewID(),
				Recipient: snapshot,
				Address:   snapshot.Address.Clone(),
				Action:    action,
				Status:    status,
				Timestamp: ts,
			})
		}

		err = t.store.UpdateMessage(ctx, msg)
		if err == nil {
			logger.Info("delivery status recorded", "action", action, "status", status)
			return msg, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= maxUpdateAttempts {
			return nil, &domain.MessageError{
				MessageID: messageID,
				Op:        "UpdateMessage",
				Err:       fmt.Errorf("%w: %v", domain.ErrSystemFault, err),
			}
		}
		logger.Debug("version conflict, retrying", "attempt", attempt)
	}
}

// resolveRefs maps every reference to its recipient and checks they share one message.
func (t *Tracker) resolveRefs(ctx context.Context, refs []string) (string, []string, error) {
	var (
		messageID    string
		recipientIDs = make([]string, 0, len(refs))
	)

	for _, ref := range refs {
		msg, err := t.store.GetMessageByReference(ctx, ref)
		if err != nil {
			return "", nil, refError(ref, err)
		}
		rid, err := t.store.GetRecipientIDByReference(ctx, ref)
		if err != nil {
			return "", nil, refError(ref, err)
		}

		if messageID == "" {
			messageID = msg.ID
		} else if msg.ID != messageID {
			return "", nil, &domain.MessageError{
				MessageID: messageID,
				Op:        "UpdateStatus",
				Err:       fmt.Errorf("%w: reference %s belongs to message %s", domain.ErrInvalidMessage, ref, msg.ID),
			}
		}
		recipientIDs = append(recipientIDs, rid)
	}

	return messageID, recipientIDs, nil
}

func refError(ref string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("reference %s: %w", ref, domain.ErrNoMatch)
	}
	return fmt.Errorf("reference %s: %w: %v", ref, domain.ErrSystemFault, err)
}
