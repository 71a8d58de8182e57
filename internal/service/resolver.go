package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"courier/internal/config"
	"courier/internal/domain"
	"courier/internal/ports"
)

// StatusNotSupported is recorded for recipients whose address cannot be handled.
const StatusNotSupported = "Not supported"

// UnresolvedRecipient reports a recipient that was dropped during resolution.
type UnresolvedRecipient struct {
	RecipientID string
	Address     *domain.DeliveryAddress // address before it was stripped
	Err         error
}

// Resolver maps logical recipient addresses to channel addresses.
type Resolver struct {
	directory ports.Directory
	settings  config.ResolutionSettings
	now       func() time.Time
	logger    *slog.Logger
}

// NewResolver creates a resolver backed by directory.
func NewResolver(directory ports.Directory, settings config.ResolutionSettings, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		settings:  settings,
		now:       time.Now,
		logger:    logger,
	}
}

// Resolve resolves every recipient of msg in place and returns msg.
// Failures are per recipient: the recipient keeps its place in the message but
// loses its address, and is reported in the returned list.
func (r *Resolver) Resolve(ctx context.Context, msg *domain.Message) (*domain.Message, []UnresolvedRecipient) {
	var unresolved []UnresolvedRecipient

	for i := range msg.Recipients {
		rcpt := &msg.Recipients[i]
		logger := r.logger.With("message_id", msg.ID, "recipient_id", rcpt.ID)

		addr := rcpt.Address
		switch {
		case !addr.IsPhysical():
			msg.AppendStatus(domain.DeliveryStatus{
				ID:        domain.NewID(),
				Recipient: domain.Recipient{ID: rcpt.ID, Address: addr.Clone()},
				Address:   addr.Clone(),
				Action:    "Resolve",
				Status:    StatusNotSupported,
				Timestamp: r.now().UTC(),
			})
			rcpt.Address = nil
			logger.Debug("unsupported address stripped")
			continue

		case addr.IsGroup():
			continue

		case addr.Resolved && addr.AddressID != "":
			continue
		}

		resolved, err := r.resolveOne(ctx, addr)
		if err != nil {
			logger.Warn("recipient not resolved", "service_id", addr.ServiceID, "error", err)
			unresolved = append(unresolved, UnresolvedRecipient{
				RecipientID: rcpt.ID,
				Address:     addr,
				Err: &domain.MessageError{
					MessageID:   msg.ID,
					RecipientID: rcpt.ID,
					Op:          "Resolve",
					Err:         err,
				},
			})
			rcpt.Address = nil
			continue
		}

		rcpt.Address = resolved
	}

	return msg, unresolved
}

func (r *Resolver) resolveOne(ctx context.Context, addr *domain.DeliveryAddress) (*domain.DeliveryAddress, error) {
	info, err := r.directory.ResolveUser(ctx, addr.Address)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownUser, addr.Address)
		}
		return nil, fmt.Errorf("%w: directory: %v", domain.ErrSystemFault, err)
	}

	if r.settings.IsExempt(addr.ServiceID) {
		out := addr.Clone()
		out.Resolved = true
		if out.AddressID == "" {
			out.AddressID = domain.NewID()
		}
		return out, nil
	}

	found, ok := info.AddressesByType[addr.ServiceID]
	if !ok || found == nil {
		return nil, fmt.Errorf("%w: user %s has no %s address", domain.ErrUnknownService, info.UserID, addr.ServiceID)
	}

	out := &domain.DeliveryAddress{
		Kind:      domain.AddressPhysical,
		ServiceID: addr.ServiceID,
		Address:   found.Address,
		AddressID: found.AddressID,
		Resolved:  true,
	}
	if out.AddressID == "" {
		out.AddressID = domain.NewID()
	}
	return out, nil
}
