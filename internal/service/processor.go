package service

import (
	"context"
	"fmt"
	"log/slog"

	"courier/internal/channel"
	"courier/internal/domain"
	"courier/internal/ports"
)

// DispatchResult describes what happened to one submitted message.
type DispatchResult struct {
	Message     *domain.Message
	Units       []domain.DeliveryUnit
	References  map[string]string // recipient id -> reference
	Faults      []domain.Fault
	Unreachable *domain.MessageWithUnreachableHandlers
}

// Processor runs a message through validation, resolution, preparation and sending.
type Processor struct {
	serverID  string
	validator *Validator
	resolver  *Resolver
	registry  *channel.Registry
	store     ports.MessageStore
	scheduler ports.Scheduler
	sender    ports.Sender
	faults    ports.FaultSink
	logger    *slog.Logger
}

// NewProcessor creates a new processor with injected dependencies.
func NewProcessor(
	serverID string,
	validator *Validator,
	resolver *Resolver,
	registry *channel.Registry,
	store ports.MessageStore,
	scheduler ports.Scheduler,
	sender ports.Sender,
	faults ports.FaultSink,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		serverID:  serverID,
		validator: validator,
		resolver:  resolver,
		registry:  registry,
		store:     store,
		scheduler: scheduler,
		sender:    sender,
		faults:    faults,
		logger:    logger,
	}
}

// Dispatch processes one inbound message. Per-recipient failures are reported as
// faults and do not stop the rest of the message; a validation failure or a
// failure to persist or arm the timeout is returned as an error.
func (p *Processor) Dispatch(ctx context.Context, msg *domain.Message) (*DispatchResult, error) {
	validated, err := p.validator.Validate(ctx, msg)
	if err != nil {
		return nil, err
	}

	logger := p.logger.With("message_id", validated.ID)
	logger.Debug("message validated", "recipients", len(validated.Recipients))

	result := &DispatchResult{References: make(map[string]string)}

	resolved, unresolved := p.resolver.Resolve(ctx, validated)
	for _, u := range unresolved {
		p.report(ctx, result, domain.NewFault(p.serverID, resolved, u.RecipientID, u.Err))
	}
	result.Message = resolved

	if err := p.store.SaveMessage(ctx, resolved); err != nil {
		return nil, &domain.MessageError{
			MessageID: resolved.ID,
			Op:        "SaveMessage",
			Err:       fmt.Errorf("%w: %v", domain.ErrSystemFault, err),
		}
	}

	conversationID := resolved.ConversationID
	for _, serviceID := range servicesOf(resolved) {
		preparer, ok := p.registry.Get(serviceID)
		if !ok {
			for _, r := range resolved.Recipients {
				if r.Address.IsPhysical() && r.Address.ServiceID == serviceID {
					p.report(ctx, result, domain.NewFault(p.serverID, resolved, r.ID, &domain.MessageError{
						MessageID:   resolved.ID,
						RecipientID: r.ID,
						Op:          "Prepare",
						Err:         fmt.Errorf("%w: no preparer for service %s", domain.ErrInvalidContext, serviceID),
					}))
				}
			}
			continue
		}

		units, refs, err := preparer.Prepare(ctx, resolved)
		if err != nil {
			logger.Error("failed to prepare channel", "service_id", serviceID, "error", err)
			p.report(ctx, result, domain.NewFault(p.serverID, resolved, "", err))
			continue
		}
		result.Units = append(result.Units, units...)
		for rid, ref := range refs {
			result.References[rid] = ref
		}
	}

	if resolved.ConversationID != conversationID {
		if err := p.store.UpdateMessage(ctx, resolved); err != nil {
			logger.Warn("failed to store assigned conversation id", "conversation_id", resolved.ConversationID, "error", err)
		}
	}

	if resolved.NeedsResponseTimeout() && len(result.Units) > 0 {
		if err := p.scheduler.ArmResponseTimeout(ctx, resolved); err != nil {
			if delErr := p.store.DeleteMessage(ctx, resolved.ID); delErr != nil {
				logger.Error("failed to delete message after scheduling failure", "error", delErr)
			}
			return nil, &domain.MessageError{
				MessageID: resolved.ID,
				Op:        "ArmResponseTimeout",
				Err:       fmt.Errorf("%w: %v", domain.ErrSystemFault, err),
			}
		}
		logger.Debug("response timeout armed", "respond_by", resolved.RespondBy)
	}

	result.Unreachable = p.send(ctx, resolved, result.Units, logger)

	logger.Info("message dispatched",
		"units", len(result.Units),
		"faults", len(result.Faults),
		"unreachable", result.Unreachable != nil,
	)

	return result, nil
}

// send hands every unit to the sender and reports the recipients that could not be reached.
func (p *Processor) send(ctx context.Context, msg *domain.Message, units []domain.DeliveryUnit, logger *slog.Logger) *domain.MessageWithUnreachableHandlers {
	var total int
	var failed []string

	for _, unit := range units {
		total += len(unit.RecipientIDs)

		res, err := p.sender.Send(ctx, unit)
		if err != nil {
			logger.Error("failed to send unit",
				"service_id", unit.ServiceID,
				"kind", unit.Kind,
				"error", err,
			)
			failed = append(failed, unit.RecipientIDs...)
			continue
		}
		failed = append(failed, res.Failed...)
	}

	if len(failed) == 0 {
		return nil
	}

	reason := domain.SomeHandlers
	if len(failed) >= total {
		reason = domain.AllHandlers
	}

	logger.Warn("handlers unreachable", "reason", reason, "failed", len(failed), "total", total)
	return &domain.MessageWithUnreachableHandlers{Message: msg, Reason: reason, Failed: failed}
}

func (p *Processor) report(ctx context.Context, result *DispatchResult, fault domain.Fault) {
	result.Faults = append(result.Faults, fault)
	if err := p.faults.Report(ctx, fault); err != nil {
		p.logger.Error("failed to report fault", "message_id", fault.MessageID, "kind", fault.Kind, "error", err)
	}
}

// servicesOf lists the service ids of addressed recipients in first-seen order.
func servicesOf(msg *domain.Message) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range msg.Recipients {
		if !r.Address.IsPhysical() || seen[r.Address.ServiceID] {
			continue
		}
		seen[r.Address.ServiceID] = true
		out = append(out, r.Address.ServiceID)
	}
	return out
}
