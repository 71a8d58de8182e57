package domain

import (
	"errors"
	"time"
)

// FaultKind classifies a fault by the error taxonomy.
type FaultKind string

const (
	FaultInvalidMessage FaultKind = "InvalidMessage"
	FaultInvalidAddress FaultKind = "InvalidAddress"
	FaultUnknownUser    FaultKind = "UnknownUser"
	FaultUnknownService FaultKind = "UnknownService"
	FaultInvalidContext FaultKind = "InvalidContext"
	FaultInvalidInput   FaultKind = "InvalidInput"
	FaultSystem         FaultKind = "SystemFault"
	FaultDelivery       FaultKind = "Delivery"
)

// Fault is the unit every pipeline failure is funnelled through.
// It carries enough context to notify the original sender or an operator.
type Fault struct {
	ServerID   string           `json:"server_id"`
	Kind       FaultKind        `json:"kind"`
	Text       string           `json:"text"`
	MessageID  string           `json:"message_id,omitempty"`
	ReceiverID string           `json:"receiver_id,omitempty"`
	Sender     *DeliveryAddress `json:"sender,omitempty"`
	At         time.Time        `json:"at"`
}

// NewFault builds a fault from an error, classifying it by its sentinel chain.
func NewFault(serverID string, msg *Message, receiverID string, err error) Fault {
	f := Fault{
		ServerID:   serverID,
		Kind:       KindOf(err),
		Text:       err.Error(),
		ReceiverID: receiverID,
		At:         time.Now().UTC(),
	}
	if msg != nil {
		f.MessageID = msg.ID
		f.Sender = msg.Sender.Clone()
	}
	return f
}

// KindOf maps an error to its fault kind. Unclassified errors are system faults.
func KindOf(err error) FaultKind {
	switch {
	case errors.Is(err, ErrUnknownUser):
		return FaultUnknownUser
	case errors.Is(err, ErrUnknownService):
		return FaultUnknownService
	case errors.Is(err, ErrInvalidAddress):
		return FaultInvalidAddress
	case errors.Is(err, ErrInvalidMessage):
		return FaultInvalidMessage
	case errors.Is(err, ErrInvalidContext):
		return FaultInvalidContext
	case errors.Is(err, ErrInvalidInput):
		return FaultInvalidInput
	case errors.Is(err, ErrDelivery), errors.Is(err, ErrNoAlternative):
		return FaultDelivery
	default:
		return FaultSystem
	}
}
