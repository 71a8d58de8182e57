package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"courier/internal/domain"
	"courier/internal/ports"
)

// ChatPreparer decides the room topology of chat deliveries.
//
// GROUP: recipients are posted into their pre-established room, one unit per room.
// The remaining recipients share one room named after the conversation: a direct
// message when there is exactly one of them, a dynamic group otherwise.
type ChatPreparer struct {
	base
	suffix string
	now    func() time.Time
}

// NewChatPreparer creates the chat preparer. suffix is appended to room names.
func NewChatPreparer(store ports.MessageStore, suffix string, logger *slog.Logger) *ChatPreparer {
	return &ChatPreparer{
		base:   base{serviceID: domain.ServiceChat, store: store, logger: logger},
		suffix: suffix,
		now:    time.Now,
	}
}

// RoomName appends the group suffix unless the name already carries it.
func (p *ChatPreparer) RoomName(name string) string {
	if p.suffix == "" || strings.HasSuffix(name, p.suffix) {
		return name
	}
	return name + p.suffix
}

// Prepare implements Preparer. When the message has no conversation id and needs a
// room of its own, a fresh conversation id is assigned to msg.
func (p *ChatPreparer) Prepare(ctx context.Context, msg *domain.Message) ([]domain.DeliveryUnit, map[string]string, error) {
	recipients, err := p.recipients(msg)
	if err != nil {
		return nil, nil, err
	}

	refs, err := p.references(ctx, msg, recipients)
	if err != nil {
		return nil, nil, err
	}

	var (
		units  []domain.DeliveryUnit
		rooms  = make(map[string]int)
		direct []domain.Recipient
	)

	for _, r := range recipients {
		if !r.Address.IsGroup() {
			direct = append(direct, r)
			continue
		}
		room := p.RoomName(r.Address.GroupName())
		i, ok := rooms[room]
		if !ok {
			i = len(units)
			rooms[room] = i
			units = append(units, domain.DeliveryUnit{
				MessageID:  msg.ID,
				ServiceID:  p.serviceID,
				Kind:       domain.UnitPermanentGroup,
				Sender:     senderAddress(msg),
				Address:    room,
				Subject:    msg.Subject,
				Body:       bodyFor(msg, r.ID, p.serviceID),
				References: map[string]string{},
			})
		}
		units[i].RecipientIDs = append(units[i].RecipientIDs, r.ID)
		units[i].References[r.ID] = refs[r.ID]
	}

	if len(direct) > 0 {
		if msg.ConversationID == "" {
			msg.ConversationID = domain.NewID()
		}
		room := p.RoomName(msg.ConversationID)

		kind := domain.UnitDynamicGroup
		if len(direct) == 1 {
			kind = domain.UnitDirectMessage
		}

		unit := domain.DeliveryUnit{
			MessageID:  msg.ID,
			ServiceID:  p.serviceID,
			Kind:       kind,
			Sender:     senderAddress(msg),
			Address:    room,
			Subject:    msg.Subject,
			Body:       bodyFor(msg, direct[0].ID, p.serviceID),
			References: map[string]string{},
		}
		for _, r := range direct {
			unit.Participants = append(unit.Participants, r.Address.Address)
			unit.RecipientIDs = append(unit.RecipientIDs, r.ID)
			unit.References[r.ID] = refs[r.ID]
		}
		units = append(units, unit)
	}

	for _, u := range units {
		conv := domain.Conversation{ID: u.Address, MessageID: msg.ID, CreatedAt: p.now().UTC()}
		if err := p.store.SaveConversation(ctx, conv); err != nil {
			return nil, nil, &domain.MessageError{
				MessageID: msg.ID,
				Op:        "SaveConversation",
				Err:       fmt.Errorf("%w: %v", domain.ErrSystemFault, err),
			}
		}
	}

	p.logger.Debug("chat units prepared", "message_id", msg.ID, "units", len(units))
	return units, refs, nil
}
