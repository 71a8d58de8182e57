package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"

	"courier/internal/domain"
	"courier/internal/ports"
)

// Outcome is the result class of a correlation attempt.
type Outcome string

const (
	Matched Outcome = "Matched"
	NoMatch Outcome = "NoMatch"
	Failed  Outcome = "Error"
)

// Email hint keys.
const (
	HintSubject      = "subject"
	HintFromEmails   = "fromEmails"
	HintToEmails     = "toEmails"
	HintContentType  = "contentType"
	HintReceivedDate = "receivedDate"
)

var subjectMarker = regexp.MustCompile(`::\[([^\]]+)\]`)

// Correlation is what the correlator found for an inbound reply.
type Correlation struct {
	Outcome        Outcome
	Message        *domain.Message // synthesized reply, nil on NoMatch for SMS and email
	Original       *domain.Message
	RecipientID    string
	MessageIDFound bool
	MessageFound   bool
}

// SMSResponse is the inbound SMS payload.
type SMSResponse struct {
	Reference string `json:"Reference"`
	Message   string `json:"Message"`
}

// ChatResponse is the inbound chat payload.
type ChatResponse struct {
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`
	Text     string `json:"text"`
}

// Correlator ties inbound replies back to the messages that caused them.
type Correlator struct {
	store     ports.MessageStore
	scheduler ports.Scheduler
	suffix    string
	logger    *slog.Logger
}

// NewCorrelator creates a correlator. suffix is the chat group suffix.
func NewCorrelator(store ports.MessageStore, scheduler ports.Scheduler, suffix string, logger *slog.Logger) *Correlator {
	return &Correlator{
		store:     store,
		scheduler: scheduler,
		suffix:    suffix,
		logger:    logger,
	}
}

// Correlate handles a raw reply received on channel. Malformed payloads yield the
// Error outcome together with an error wrapping domain.ErrInvalidInput.
func (c *Correlator) Correlate(ctx context.Context, channel string, raw []byte, hints map[string]string) (Correlation, error) {
	switch strings.ToUpper(channel) {
	case domain.ServiceSMS:
		return c.correlateSMS(ctx, raw)
	case domain.ServiceEmail:
		return c.correlateEmail(ctx, raw, hints)
	case domain.ServiceChat:
		return c.correlateChat(ctx, raw)
	default:
		return Correlation{Outcome: Failed}, fmt.Errorf("correlate: %w: unsupported channel %q", domain.ErrInvalidInput, channel)
	}
}

func (c *Correlator) correlateSMS(ctx context.Context, raw []byte) (Correlation, error) {
	var in SMSResponse
	if err := json.Unmarshal(raw, &in); err != nil {
		return Correlation{Outcome: Failed}, fmt.Errorf("correlate sms: %w: %v", domain.ErrInvalidInput, err)
	}
	if in.Reference == "" {
		return Correlation{Outcome: Failed}, fmt.Errorf("correlate sms: %w: missing Reference", domain.ErrInvalidInput)
	}

	orig, err := c.store.GetMessageByReference(ctx, in.Reference)
	if errors.Is(err, domain.ErrNotFound) {
		c.logger.Info("sms reference not found", "reference", in.Reference)
		return Correlation{Outcome: NoMatch}, nil
	}
	if err != nil {
		return Correlation{Outcome: Failed}, fmt.Errorf("correlate sms: %w: %v", domain.ErrSystemFault, err)
	}

	rid, err := c.store.GetRecipientIDByReference(ctx, in.Reference)
	if errors.Is(err, domain.ErrNotFound) {
		return Correlation{Outcome: NoMatch}, nil
	}
	if err != nil {
		return Correlation{Outcome: Failed}, fmt.Errorf("correlate sms: %w: %v", domain.ErrSystemFault, err)
	}

	var sender *domain.DeliveryAddress
	if r := orig.FindRecipient(rid); r != nil {
		sender = r.Address.Clone()
	}

	reply := c.reply(orig, sender, orig.Sender, domain.MessageBody{Content: in.Message, ContentType: "text/plain"})
	return c.complete(ctx, orig, rid, reply)
}

func (c *Correlator) correlateEmail(ctx context.Context, raw []byte, hints map[string]string) (Correlation, error) {
	subject := hints[HintSubject]
	matches := subjectMarker.FindAllStringSubmatch(subject, -1)
	if len(matches) == 0 {
		c.logger.Info("email subject carries no message id", "subject", subject)
		return Correlation{Outcome: NoMatch}, nil
	}
	messageID := matches[len(matches)-1][1]

	orig, err := c.store.GetMessageByID(ctx, messageID)
	if errors.Is(err, domain.ErrNotFound) {
		c.logger.Info("email message id not found", "message_id", messageID)
		return Correlation{Outcome: NoMatch, MessageIDFound: true}, nil
	}
	if err != nil {
		return Correlation{Outcome: Failed, MessageIDFound: true}, fmt.Errorf("correlate email: %w: %v", domain.ErrSystemFault, err)
	}

	from, err := parseAddresses(hints[HintFromEmails])
	if err != nil || len(from) == 0 {
		return Correlation{Outcome: Failed, MessageIDFound: true, MessageFound: true},
			fmt.Errorf("correlate email: %w: bad %s %q", domain.ErrInvalidInput, HintFromEmails, hints[HintFromEmails])
	}

	var toOriginal []string
	for _, r := range orig.Recipients {
		if r.Address.IsPhysical() && r.Address.ServiceID == domain.ServiceEmail {
			toOriginal = append(toOriginal, r.Address.Address)
		}
	}

	contentType := hints[HintContentType]
	content := string(raw)
	if strings.Contains(strings.ToLower(contentType), "html") {
		content = html.EscapeString(content)
	}

	reply := c.reply(orig,
		domain.NewPhysicalAddress(domain.ServiceEmail, strings.Join(toOriginal, ",")),
		nil,
		domain.MessageBody{Content: content, ContentType: contentType},
	)
	reply.Subject = subject
	for _, addr := range from {
		reply.Recipients = append(reply.Recipients, domain.Recipient{
			ID:      domain.NewID(),
			Address: domain.NewPhysicalAddress(domain.ServiceEmail, addr),
		})
	}

	var rid string
	for _, r := range orig.Recipients {
		if r.Address.IsPhysical() && r.Address.ServiceID == domain.ServiceEmail && containsFold(from, r.Address.Address) {
			rid = r.ID
			break
		}
	}

	c.logger.Debug("email correlated", "message_id", orig.ID, "received", hints[HintReceivedDate])
	corr, err := c.complete(ctx, orig, rid, reply)
	corr.MessageIDFound = true
	corr.MessageFound = true
	return corr, err
}

func (c *Correlator) correlateChat(ctx context.Context, raw []byte) (Correlation, error) {
	var in ChatResponse
	if err := json.Unmarshal(raw, &in); err != nil {
		return Correlation{Outcome: Failed}, fmt.Errorf("correlate chat: %w: %v", domain.ErrInvalidInput, err)
	}
	if in.RoomID == "" {
		return Correlation{Outcome: Failed}, fmt.Errorf("correlate chat: %w: missing roomId", domain.ErrInvalidInput)
	}

	body := domain.MessageBody{Content: in.Text, ContentType: "text/plain"}
	sender := domain.NewPhysicalAddress(domain.ServiceChat, in.SenderID)

	convID, err := c.matchRoom(ctx, in.RoomID)
	if err != nil {
		return Correlation{Outcome: Failed}, err
	}

	if convID == "" {
		reply := c.reply(nil, sender, nil, body)
		if err := c.store.SaveMessage(ctx, reply); err != nil {
			return Correlation{Outcome: Failed}, fmt.Errorf("correlate chat: %w: %v", domain.ErrSystemFault, err)
		}
		c.logger.Info("chat room not known, reply kept unmatched", "room_id", in.RoomID, "message_id", reply.ID)
		return Correlation{Outcome: NoMatch, Message: reply}, nil
	}

	var orig *domain.Message
	conv, err := c.store.GetConversationByID(ctx, convID)
	if err == nil && conv.MessageID != "" {
		orig, err = c.store.GetMessageByID(ctx, conv.MessageID)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return Correlation{Outcome: Failed}, fmt.Errorf("correlate chat: %w: %v", domain.ErrSystemFault, err)
	}

	var origSender *domain.DeliveryAddress
	var rid string
	if orig != nil {
		origSender = orig.Sender
		for _, r := range orig.Recipients {
			if r.Address.IsPhysical() && r.Address.ServiceID == domain.ServiceChat && r.Address.Address == in.SenderID {
				rid = r.ID
				break
			}
		}
	}

	reply := c.reply(orig, sender, origSender, body)
	reply.RelatedConversationID = convID
	return c.complete(ctx, orig, rid, reply)
}

// matchRoom tries the room id as-is, with the group suffix, and without it.
func (c *Correlator) matchRoom(ctx context.Context, roomID string) (string, error) {
	candidates := []string{roomID}
	if c.suffix != "" {
		if !strings.HasSuffix(roomID, c.suffix) {
			candidates = append(candidates, roomID+c.suffix)
		} else {
			candidates = append(candidates, strings.TrimSuffix(roomID, c.suffix))
		}
	}

	for _, id := range candidates {
		known, err := c.store.IsKnownConversation(ctx, id)
		if err != nil {
			return "", fmt.Errorf("correlate chat: %w: %v", domain.ErrSystemFault, err)
		}
		if known {
			return id, nil
		}
	}
	return "", nil
}

// reply builds the synthesized reply message. recipient may be nil.
func (c *Correlator) reply(orig *domain.Message, sender, recipient *domain.DeliveryAddress, body domain.MessageBody) *domain.Message {
	reply := &domain.Message{
		Kind:   domain.KindMessage,
		ID:     domain.NewID(),
		Sender: sender,
		Parts:  []domain.MessageBody{body},
	}
	if recipient != nil {
		reply.Recipients = []domain.Recipient{{ID: domain.NewID(), Address: recipient.Clone()}}
	}
	if orig != nil {
		reply.RelatedMessageID = orig.ID
		reply.RelatedConversationID = orig.RelatedConversationID
		if reply.RelatedConversationID == "" {
			reply.RelatedConversationID = orig.ConversationID
		}
	}
	return reply
}

// complete persists the reply and records the response of recipientID, cancelling
// the armed timeout once every addressed recipient has answered.
func (c *Correlator) complete(ctx context.Context, orig *domain.Message, recipientID string, reply *domain.Message) (Correlation, error) {
	corr := Correlation{Outcome: Matched, Message: reply, Original: orig, RecipientID: recipientID}

	if err := c.store.SaveMessage(ctx, reply); err != nil {
		return Correlation{Outcome: Failed}, fmt.Errorf("save reply: %w: %v", domain.ErrSystemFault, err)
	}

	if orig == nil || recipientID == "" {
		return corr, nil
	}

	logger := c.logger.With("message_id", orig.ID, "recipient_id", recipientID, "reply_id", reply.ID)

	state, err := c.store.RecordResponse(ctx, orig.ID, recipientID)
	if err != nil {
		logger.Error("failed to record response", "error", err)
		return corr, nil
	}

	if state.Complete() && orig.NeedsResponseTimeout() {
		if err := c.scheduler.CancelResponseTimeout(ctx, orig.ID); err != nil {
			logger.Error("failed to cancel response timeout", "error", err)
		} else {
			logger.Info("all recipients responded, timeout cancelled")
		}
	}

	return corr, nil
}

// parseAddresses accepts RFC 5322 address lists and falls back to plain comma splitting.
func parseAddresses(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	list, err := mail.ParseAddressList(raw)
	if err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.Address)
		}
		return out, nil
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			if !strings.Contains(part, "@") {
				return nil, err
			}
			out = append(out, part)
		}
	}
	return out, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
