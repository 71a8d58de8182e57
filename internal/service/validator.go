package service

import (
	"context"
	"fmt"
	"log/slog"

	"courier/internal/config"
	"courier/internal/domain"
	"courier/internal/ports"
)

// Validator is the entry gate of the pipeline.
type Validator struct {
	store  ports.MessageStore
	policy config.DuplicatePolicy
	logger *slog.Logger
}

// NewValidator creates a validator applying the given duplicate id policy.
func NewValidator(store ports.MessageStore, policy config.DuplicatePolicy, logger *slog.Logger) *Validator {
	return &Validator{
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// Validate returns a validated copy of msg. Missing message and recipient ids are
// assigned, colliding message ids are rejected or regenerated, the related
// conversation must be known, and alerts are set to pending.
func (v *Validator) Validate(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	out := msg.Clone()
	set := append([]*domain.Message{out}, out.Escalations()...)

	for _, m := range set {
		if m.ID == "" {
			m.ID = domain.NewID()
		}
		if err := assignRecipientIDs(m); err != nil {
			return nil, err
		}
	}

	duplicated, err := v.duplicates(ctx, set)
	if err != nil {
		return nil, err
	}

	if len(duplicated) > 0 {
		if v.policy != config.DuplicateRegenerate {
			ids := make([]string, 0, len(duplicated))
			for _, m := range duplicated {
				ids = append(ids, m.ID)
			}
			return nil, &domain.DuplicateIDError{IDs: ids}
		}

		for _, m := range duplicated {
			old := m.ID
			m.ID = domain.NewID()
			v.logger.Info("regenerated duplicate message id", "old_id", old, "message_id", m.ID)
		}
	}

	if out.RelatedConversationID != "" {
		known, err := v.store.IsKnownConversation(ctx, out.RelatedConversationID)
		if err != nil {
			return nil, &domain.MessageError{
				MessageID: out.ID,
				Op:        "IsKnownConversation",
				Err:       fmt.Errorf("%w: %v", domain.ErrSystemFault, err),
			}
		}
		if !known {
			return nil, &domain.MessageError{
				MessageID: out.ID,
				Op:        "Validate",
				Err:       fmt.Errorf("%w: %s", domain.ErrUnknownConversation, out.RelatedConversationID),
			}
		}
	}

	if out.IsAlert() {
		out.AlertStatus = domain.AlertPending
	}

	return out, nil
}

// duplicates returns every message of the set whose id collides with another
// member of the set or with a stored message, in set order.
func (v *Validator) duplicates(ctx context.Context, set []*domain.Message) ([]*domain.Message, error) {
	counts := make(map[string]int, len(set))
	for _, m := range set {
		counts[m.ID]++
	}

	var out []*domain.Message
	for _, m := range set {
		if counts[m.ID] > 1 {
			out = append(out, m)
			continue
		}
		exists, err := v.store.MessageExists(ctx, m.ID)
		if err != nil {
			return nil, &domain.MessageError{
				MessageID: m.ID,
				Op:        "MessageExists",
				Err:       fmt.Errorf("%w: %v", domain.ErrSystemFault, err),
			}
		}
		if exists {
			out = append(out, m)
		}
	}
	return out, nil
}

func assignRecipientIDs(m *domain.Message) error {
	seen := make(map[string]struct{}, len(m.Recipients))
	for i := range m.Recipients {
		r := &m.Recipients[i]
		if r.ID == "" {
			r.ID = domain.NewID()
		}
		if _, ok := seen[r.ID]; ok {
			return &domain.MessageError{
				MessageID:   m.ID,
				RecipientID: r.ID,
				Op:          "Validate",
				Err:         fmt.Errorf("%w: recipient id used twice", domain.ErrInvalidMessage),
			}
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
