package domain

import "strings"

// UnitKind describes the topology of a delivery unit.
type UnitKind string

const (
	// UnitSingle addresses exactly one recipient (SMS, voice, alert).
	UnitSingle UnitKind = "single"
	// UnitMail lists every email recipient that shares the same body.
	UnitMail UnitKind = "mail"
	// UnitPermanentGroup posts into a pre-established chat room.
	UnitPermanentGroup UnitKind = "permanent_group"
	// UnitDynamicGroup opens a room for all non-group chat participants.
	UnitDynamicGroup UnitKind = "dynamic_group"
	// UnitDirectMessage is a one-to-one chat.
	UnitDirectMessage UnitKind = "direct_message"
)

// DeliveryUnit is what a channel adapter physically sends.
type DeliveryUnit struct {
	MessageID    string            `json:"message_id"`
	ServiceID    string            `json:"service_id"`
	Kind         UnitKind          `json:"kind"`
	Sender       string            `json:"sender,omitempty"`
	Address      string            `json:"address,omitempty"` // phone, comma-joined emails, or room name
	Participants []string          `json:"participants,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	Body         MessageBody       `json:"body"`
	RecipientIDs []string          `json:"recipient_ids"`
	References   map[string]string `json:"references,omitempty"` // recipient id -> reference
}

// Recipients returns the addresses covered by the unit.
func (u DeliveryUnit) Recipients() []string {
	if len(u.Participants) > 0 {
		return u.Participants
	}
	if u.Address == "" {
		return nil
	}
	return strings.Split(u.Address, ",")
}

// SendResult reports which recipients of a unit could not be reached.
type SendResult struct {
	ProviderID string   `json:"provider_id,omitempty"`
	Failed     []string `json:"failed_recipient_ids,omitempty"`
}
