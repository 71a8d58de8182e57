package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/adapters/memory"
	"courier/internal/domain"
)

type correlatorFixture struct {
	store *memory.Store
	sched *memory.Scheduler
	c     *Correlator
}

func newCorrelatorFixture(t *testing.T) *correlatorFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	sched := memory.NewScheduler(store, func() time.Time { return time.Unix(0, 0) })

	orig := &domain.Message{
		ID:                    "m1",
		ConversationID:        "conv-1",
		RelatedConversationID: "conv-0",
		Sender:                domain.NewPhysicalAddress(domain.ServiceEmail, "ops@example.com"),
		Subject:               "Disk full",
		ReceiptNotification:   true,
		RespondBy:             60,
		Recipients: []domain.Recipient{
			{ID: "r-sms", Address: &domain.DeliveryAddress{Kind: domain.AddressPhysical, ServiceID: domain.ServiceSMS, Address: "+15550101", AddressID: "a1", Resolved: true}},
			{ID: "r-mail", Address: domain.NewPhysicalAddress(domain.ServiceEmail, "alice@example.com")},
			{ID: "r-mail2", Address: domain.NewPhysicalAddress(domain.ServiceEmail, "bob@example.com")},
			{ID: "r-chat", Address: domain.NewPhysicalAddress(domain.ServiceChat, "carol@chat")},
		},
	}
	require.NoError(t, store.SaveMessage(ctx, orig))
	require.NoError(t, sched.ArmResponseTimeout(ctx, orig))
	require.NoError(t, store.SaveMessageReference(ctx, "m1", "r-sms", "ref-sms"))
	require.NoError(t, store.SaveConversation(ctx, domain.Conversation{ID: "conv-1@conference", MessageID: "m1"}))

	return &correlatorFixture{
		store: store,
		sched: sched,
		c:     NewCorrelator(store, sched, "@conference", newTestLogger()),
	}
}

func TestCorrelator_SMS(t *testing.T) {
	f := newCorrelatorFixture(t)

	corr, err := f.c.Correlate(context.Background(), "SMS", []byte(`{"Reference":"ref-sms","Message":"Yes"}`), nil)
	require.NoError(t, err)
	require.Equal(t, Matched, corr.Outcome)

	reply := corr.Message
	assert.Equal(t, "+15550101", reply.Sender.Address)
	require.Len(t, reply.Parts, 1)
	assert.Equal(t, "Yes", reply.Parts[0].Content)
	require.Len(t, reply.Recipients, 1)
	assert.Equal(t, "ops@example.com", reply.Recipients[0].Address.Address)
	assert.Equal(t, "m1", reply.RelatedMessageID)
	assert.Equal(t, "conv-0", reply.RelatedConversationID)
	assert.Equal(t, "r-sms", corr.RecipientID)

	stored, err := f.store.GetMessageByID(context.Background(), reply.ID)
	require.NoError(t, err)
	assert.Equal(t, reply.ID, stored.ID)

	state, err := f.store.ResponseState(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Responded)
}

func TestCorrelator_SMSNoMatchAndErrors(t *testing.T) {
	f := newCorrelatorFixture(t)

	corr, err := f.c.Correlate(context.Background(), "SMS", []byte(`{"Reference":"unknown","Message":"Yes"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, NoMatch, corr.Outcome)
	assert.Nil(t, corr.Message)

	tests := []string{`not json`, `{"Message":"Yes"}`}
	for _, raw := range tests {
		corr, err := f.c.Correlate(context.Background(), "SMS", []byte(raw), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Equal(t, Failed, corr.Outcome)
	}
}

func TestCorrelator_Email(t *testing.T) {
	f := newCorrelatorFixture(t)

	corr, err := f.c.Correlate(context.Background(), "EMAIL", []byte(`<b>On it</b>`), map[string]string{
		HintSubject:     "RE: Disk full::[m1]",
		HintFromEmails:  "Alice <alice@example.com>",
		HintToEmails:    "ops@example.com",
		HintContentType: "text/html",
	})
	require.NoError(t, err)
	require.Equal(t, Matched, corr.Outcome)
	assert.True(t, corr.MessageIDFound)
	assert.True(t, corr.MessageFound)
	assert.Equal(t, "r-mail", corr.RecipientID)

	reply := corr.Message
	assert.Equal(t, "alice@example.com,bob@example.com", reply.Sender.Address)
	require.Len(t, reply.Recipients, 1)
	assert.Equal(t, "alice@example.com", reply.Recipients[0].Address.Address)
	assert.Equal(t, "&lt;b&gt;On it&lt;/b&gt;", reply.Parts[0].Content)
	assert.Equal(t, "m1", reply.RelatedMessageID)
}

func TestCorrelator_EmailNoMatch(t *testing.T) {
	f := newCorrelatorFixture(t)

	corr, err := f.c.Correlate(context.Background(), "EMAIL", []byte("hi"), map[string]string{
		HintSubject:    "Hello there",
		HintFromEmails: "alice@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, NoMatch, corr.Outcome)
	assert.False(t, corr.MessageIDFound)

	corr, err = f.c.Correlate(context.Background(), "EMAIL", []byte("hi"), map[string]string{
		HintSubject:    "RE: ::[gone]",
		HintFromEmails: "alice@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, NoMatch, corr.Outcome)
	assert.True(t, corr.MessageIDFound)
	assert.False(t, corr.MessageFound)
}

func TestCorrelator_Chat(t *testing.T) {
	tests := []struct {
		name    string
		room    string
		outcome Outcome
		related string
	}{
		{name: "as is", room: "conv-1@conference", outcome: Matched, related: "conv-1@conference"},
		{name: "suffix appended", room: "conv-1", outcome: Matched, related: "conv-1@conference"},
		{name: "unknown room", room: "lobby", outcome: NoMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCorrelatorFixture(t)

			corr, err := f.c.Correlate(context.Background(), "CHAT",
				[]byte(`{"roomId":"`+tt.room+`","senderId":"carol@chat","text":"ack"}`), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, corr.Outcome)
			require.NotNil(t, corr.Message)
			assert.Equal(t, tt.related, corr.Message.RelatedConversationID)
			assert.Equal(t, "carol@chat", corr.Message.Sender.Address)
			assert.Equal(t, "ack", corr.Message.Parts[0].Content)

			_, err = f.store.GetMessageByID(context.Background(), corr.Message.ID)
			require.NoError(t, err, "reply is persisted either way")
		})
	}
}

func TestCorrelator_SuffixStrippedCandidate(t *testing.T) {
	f := newCorrelatorFixture(t)
	require.NoError(t, f.store.SaveConversation(context.Background(), domain.Conversation{ID: "ops-room"}))

	corr, err := f.c.Correlate(context.Background(), "CHAT", []byte(`{"roomId":"ops-room@conference","senderId":"x","text":"hi"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, Matched, corr.Outcome)
	assert.Equal(t, "ops-room", corr.Message.RelatedConversationID)
}

func TestCorrelator_AllRespondedCancelsTimeout(t *testing.T) {
	f := newCorrelatorFixture(t)
	ctx := context.Background()

	for _, rid := range []string{"r-mail", "r-mail2", "r-chat"} {
		_, err := f.store.RecordResponse(ctx, "m1", rid)
		require.NoError(t, err)
	}
	require.True(t, f.sched.Armed("m1"))

	_, err := f.c.Correlate(ctx, "SMS", []byte(`{"Reference":"ref-sms","Message":"Yes"}`), nil)
	require.NoError(t, err)
	assert.False(t, f.sched.Armed("m1"))
}

func TestCorrelator_UnsupportedChannel(t *testing.T) {
	f := newCorrelatorFixture(t)
	corr, err := f.c.Correlate(context.Background(), "FAX", nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, Failed, corr.Outcome)
}
