package domain

// TimeoutReason says why a response timeout fired.
type TimeoutReason string

const (
	NoResponses      TimeoutReason = "NO_RESPONSES"
	PartialResponses TimeoutReason = "PARTIAL_RESPONSES"
)

// TimedOutMessage is produced once when a message's respond-by deadline passes
// without a full response set.
type TimedOutMessage struct {
	Message *Message      `json:"message"`
	Reason  TimeoutReason `json:"reason"`
}

// UnreachableReason says how many handlers failed to deliver a message.
type UnreachableReason string

const (
	AllHandlers  UnreachableReason = "ALL_HANDLERS"
	SomeHandlers UnreachableReason = "SOME_HANDLERS"
)

// MessageWithUnreachableHandlers is produced when sending fails for all or
// some of a message's recipients.
type MessageWithUnreachableHandlers struct {
	Message *Message          `json:"message"`
	Reason  UnreachableReason `json:"reason"`
	Failed  []string          `json:"failed_recipient_ids,omitempty"`
}

// ReasonFor derives the timeout reason from a response state.
// It returns false when the message has fully responded and nothing should fire.
func ReasonFor(state ResponseState) (TimeoutReason, bool) {
	switch {
	case state.Complete():
		return "", false
	case state.Responded == 0:
		return NoResponses, true
	default:
		return PartialResponses, true
	}
}
