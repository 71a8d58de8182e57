package domain

import (
	"strings"
	"time"
)

// Service identifiers of the supported channels.
const (
	ServiceSMS   = "SMS"
	ServiceEmail = "EMAIL"
	ServiceChat  = "CHAT"
	ServiceVoice = "VOICE"
	ServiceAlert = "ALERT"
)

// GroupAddressPrefix marks a chat address as a pre-established room.
const GroupAddressPrefix = "GROUP:"

// MessageKind discriminates plain messages from alerts.
type MessageKind string

const (
	KindMessage MessageKind = "message"
	KindAlert   MessageKind = "alert"
)

// AlertStatus is the lifecycle state of an alert message.
type AlertStatus string

const (
	AlertNew          AlertStatus = "New"
	AlertPending      AlertStatus = "Pending"
	AlertAcknowledged AlertStatus = "Acknowledged"
	AlertResolved     AlertStatus = "Resolved"
)

// Message is the unit routed through the engine.
//
// The four escalation lists hold fully built alternate messages, not templates.
// They are owned values and never point back at the parent.
type Message struct {
	Kind                  MessageKind      `json:"kind"`
	ID                    string           `json:"message_id"`
	ConversationID        string           `json:"conversation_id,omitempty"`
	RelatedConversationID string           `json:"related_conversation_id,omitempty"`
	RelatedMessageID      string           `json:"related_message_id,omitempty"`
	Sender                *DeliveryAddress `json:"sender,omitempty"`
	Recipients            []Recipient      `json:"recipients"`
	Subject               string           `json:"subject,omitempty"`
	Parts                 []MessageBody    `json:"parts"`
	ReceiptNotification   bool             `json:"receipt_notification"`
	RespondBy             int              `json:"respond_by"` // seconds, <= 0 disables the timeout
	DeliveryStatuses      []DeliveryStatus `json:"delivery_statuses,omitempty"`
	AlertStatus           AlertStatus      `json:"alert_status,omitempty"`
	Version               int64            `json:"version"`

	OnFailureToReachAll []Message `json:"on_failure_to_reach_all,omitempty"`
	OnFailureToReachAny []Message `json:"on_failure_to_reach_any,omitempty"`
	OnNoResponseAll     []Message `json:"on_no_response_all,omitempty"`
	OnNoResponseAny     []Message `json:"on_no_response_any,omitempty"`
}

// IsAlert reports whether the message is an alert.
func (m *Message) IsAlert() bool {
	return m.Kind == KindAlert
}

// NeedsResponseTimeout reports whether a response timeout must be armed for the message.
func (m *Message) NeedsResponseTimeout() bool {
	return m.ReceiptNotification && m.RespondBy > 0
}

// FindRecipient returns the recipient with the given id, or nil.
func (m *Message) FindRecipient(recipientID string) *Recipient {
	for i := range m.Recipients {
		if m.Recipients[i].ID == recipientID {
			return &m.Recipients[i]
		}
	}
	return nil
}

// AddressedRecipients counts recipients that still carry a delivery address.
func (m *Message) AddressedRecipients() int {
	n := 0
	for _, r := range m.Recipients {
		if r.Address != nil {
			n++
		}
	}
	return n
}

// Escalations returns pointers to every message held in the four escalation lists.
func (m *Message) Escalations() []*Message {
	var out []*Message
	for _, list := range [][]Message{m.OnFailureToReachAll, m.OnFailureToReachAny, m.OnNoResponseAll, m.OnNoResponseAny} {
		for i := range list {
			out = append(out, &list[i])
		}
	}
	return out
}

// AppendStatus records a delivery status entry. Entries are never removed.
func (m *Message) AppendStatus(s DeliveryStatus) {
	m.DeliveryStatuses = append(m.DeliveryStatuses, s)
}

// Clone returns a deep copy of the message, escalation lists included.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Sender = m.Sender.Clone()
	if m.Recipients != nil {
		c.Recipients = make([]Recipient, len(m.Recipients))
		for i, r := range m.Recipients {
			c.Recipients[i] = Recipient{ID: r.ID, Address: r.Address.Clone()}
		}
	}
	if m.Parts != nil {
		c.Parts = append([]MessageBody(nil), m.Parts...)
	}
	if m.DeliveryStatuses != nil {
		c.DeliveryStatuses = make([]DeliveryStatus, len(m.DeliveryStatuses))
		for i, s := range m.DeliveryStatuses {
			s.Recipient = Recipient{ID: s.Recipient.ID, Address: s.Recipient.Address.Clone()}
			s.Address = s.Address.Clone()
			c.DeliveryStatuses[i] = s
		}
	}
	c.OnFailureToReachAll = cloneList(m.OnFailureToReachAll)
	c.OnFailureToReachAny = cloneList(m.OnFailureToReachAny)
	c.OnNoResponseAll = cloneList(m.OnNoResponseAll)
	c.OnNoResponseAny = cloneList(m.OnNoResponseAny)
	return &c
}

func cloneList(list []Message) []Message {
	if list == nil {
		return nil
	}
	out := make([]Message, len(list))
	for i := range list {
		out[i] = *list[i].Clone()
	}
	return out
}

// Recipient is one addressee of a message.
type Recipient struct {
	ID      string           `json:"recipient_id"`
	Address *DeliveryAddress `json:"delivery_address,omitempty"`
}

// AddressKind tells physical addresses apart from unsupported ones.
type AddressKind string

const (
	AddressPhysical    AddressKind = "physical"
	AddressUnsupported AddressKind = "unsupported"
)

// DeliveryAddress is where a recipient can be reached.
// Only physical addresses carry a service id and an address string.
type DeliveryAddress struct {
	Kind      AddressKind `json:"kind" yaml:"kind"`
	ServiceID string      `json:"service_id,omitempty" yaml:"service_id"`
	Address   string      `json:"address,omitempty" yaml:"address"`
	AddressID string      `json:"address_id,omitempty" yaml:"address_id"`
	Resolved  bool        `json:"resolved,omitempty" yaml:"resolved"`
}

// NewPhysicalAddress builds an unresolved physical address.
func NewPhysicalAddress(serviceID, address string) *DeliveryAddress {
	return &DeliveryAddress{Kind: AddressPhysical, ServiceID: serviceID, Address: address}
}

// IsPhysical reports whether the address is a supported physical address.
func (a *DeliveryAddress) IsPhysical() bool {
	return a != nil && a.Kind == AddressPhysical
}

// IsGroup reports whether the address names a pre-established chat room.
func (a *DeliveryAddress) IsGroup() bool {
	return a.IsPhysical() && a.ServiceID == ServiceChat && strings.HasPrefix(a.Address, GroupAddressPrefix)
}

// GroupName returns the room name of a group address, without the prefix.
func (a *DeliveryAddress) GroupName() string {
	return strings.TrimPrefix(a.Address, GroupAddressPrefix)
}

// Clone returns a copy of the address.
func (a *DeliveryAddress) Clone() *DeliveryAddress {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// Routing tags recognised on message bodies.
const (
	TagRecipientID = "[RECIPIENT-ID]:"
	TagServiceID   = "[SERVICE-ID]:"
)

// MessageBody is one content part of a message.
// Tag optionally restricts the part to one recipient or one service.
type MessageBody struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Tag         string `json:"tag,omitempty"`
}

// RecipientTarget returns the recipient id the body is tagged for, if any.
func (b MessageBody) RecipientTarget() (string, bool) {
	if !strings.HasPrefix(b.Tag, TagRecipientID) {
		return "", false
	}
	return strings.TrimPrefix(b.Tag, TagRecipientID), true
}

// ServiceTarget returns the service id the body is tagged for, if any.
func (b MessageBody) ServiceTarget() (string, bool) {
	if !strings.HasPrefix(b.Tag, TagServiceID) {
		return "", false
	}
	return strings.TrimPrefix(b.Tag, TagServiceID), true
}

// DeliveryStatus is one entry of a message's audit trail.
type DeliveryStatus struct {
	ID        string           `json:"delivery_status_id"`
	Recipient Recipient        `json:"recipient"`
	Address   *DeliveryAddress `json:"address,omitempty"`
	Action    string           `json:"action"`
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
}

// Conversation groups related messages, typically a chat room.
type Conversation struct {
	ID        string    `json:"conversation_id"`
	MessageID string    `json:"message_id,omitempty"` // last message sent into the conversation
	CreatedAt time.Time `json:"created_at"`
}

// UserContactInfo is what the directory knows about a user.
type UserContactInfo struct {
	UserID          string                      `json:"user_id" yaml:"user_id"`
	AddressesByType map[string]*DeliveryAddress `json:"addresses_by_type" yaml:"addresses_by_type"`
}

// ResponseState tracks how many addressed recipients have answered a message.
type ResponseState struct {
	Total     int `json:"total"`
	Responded int `json:"responded"`
}

// Complete reports whether every addressed recipient has responded.
func (s ResponseState) Complete() bool {
	return s.Total > 0 && s.Responded >= s.Total
}
