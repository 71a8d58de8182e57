package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/adapters/memory"
	"courier/internal/config"
	"courier/internal/domain"
)

func duplicateTree() *domain.Message {
	return &domain.Message{
		ID:         "stored",
		Recipients: []domain.Recipient{{Address: sms("alice")}},
		Parts:      []domain.MessageBody{{Content: "root"}},
		OnFailureToReachAll: []domain.Message{
			{ID: "dup", Parts: []domain.MessageBody{{Content: "A"}}},
			{ID: "dup", Parts: []domain.MessageBody{{Content: "B"}}},
		},
		OnFailureToReachAny: []domain.Message{{ID: "any-1"}},
		OnNoResponseAll:     []domain.Message{{ID: "none-1"}},
	}
}

func TestValidator_DuplicateFail(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.SaveMessage(ctx, &domain.Message{ID: "stored"}))

	v := NewValidator(store, config.DuplicateFail, newTestLogger())
	_, err := v.Validate(ctx, duplicateTree())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	var dupErr *domain.DuplicateIDError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, []string{"stored", "dup", "dup"}, dupErr.IDs)
}

func TestValidator_DuplicateRegenerate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.SaveMessage(ctx, &domain.Message{ID: "stored"}))

	v := NewValidator(store, config.DuplicateRegenerate, newTestLogger())
	in := duplicateTree()
	out, err := v.Validate(ctx, in)
	require.NoError(t, err)

	ids := map[string]bool{out.ID: true}
	for _, m := range out.Escalations() {
		ids[m.ID] = true
	}
	assert.Len(t, ids, 5)
	assert.False(t, ids["dup"])
	assert.False(t, ids["stored"])
	assert.True(t, ids["any-1"])
	assert.True(t, ids["none-1"])

	assert.Equal(t, "A", out.OnFailureToReachAll[0].Parts[0].Content)
	assert.Equal(t, "B", out.OnFailureToReachAll[1].Parts[0].Content)
	assert.Equal(t, "stored", in.ID, "input must not be mutated")
}

func TestValidator_AssignsIDs(t *testing.T) {
	v := NewValidator(memory.NewStore(), config.DuplicateFail, newTestLogger())

	out, err := v.Validate(context.Background(), &domain.Message{
		Recipients: []domain.Recipient{{Address: sms("alice")}, {Address: sms("bob")}},
		OnNoResponseAny: []domain.Message{
			{Recipients: []domain.Recipient{{Address: sms("carol")}}},
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, out.ID)
	assert.NotEmpty(t, out.Recipients[0].ID)
	assert.NotEqual(t, out.Recipients[0].ID, out.Recipients[1].ID)
	assert.NotEmpty(t, out.OnNoResponseAny[0].ID)
	assert.NotEmpty(t, out.OnNoResponseAny[0].Recipients[0].ID)
}

func TestValidator_RejectsRepeatedRecipientID(t *testing.T) {
	v := NewValidator(memory.NewStore(), config.DuplicateFail, newTestLogger())

	_, err := v.Validate(context.Background(), &domain.Message{
		ID:         "m1",
		Recipients: []domain.Recipient{{ID: "r1"}, {ID: "r1"}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)
}

func TestValidator_RelatedConversation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.SaveConversation(ctx, domain.Conversation{ID: "conv-known"}))
	v := NewValidator(store, config.DuplicateFail, newTestLogger())

	_, err := v.Validate(ctx, &domain.Message{ID: "m1", RelatedConversationID: "conv-known"})
	require.NoError(t, err)

	_, err = v.Validate(ctx, &domain.Message{ID: "m2", RelatedConversationID: "conv-unknown"})
	assert.ErrorIs(t, err, domain.ErrUnknownConversation)
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)
}

func TestValidator_AlertBecomesPending(t *testing.T) {
	v := NewValidator(memory.NewStore(), config.DuplicateFail, newTestLogger())

	out, err := v.Validate(context.Background(), &domain.Message{ID: "a1", Kind: domain.KindAlert, AlertStatus: domain.AlertAcknowledged})
	require.NoError(t, err)
	assert.Equal(t, domain.AlertPending, out.AlertStatus)

	out, err = v.Validate(context.Background(), &domain.Message{ID: "m1"})
	require.NoError(t, err)
	assert.Empty(t, out.AlertStatus)
}
