package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/domain"
)

func newMessage(id string) *domain.Message {
	return &domain.Message{
		Kind: domain.KindMessage,
		ID:   id,
		Recipients: []domain.Recipient{
			{ID: "r1", Address: domain.NewPhysicalAddress(domain.ServiceSMS, "+1")},
			{ID: "r2", Address: domain.NewPhysicalAddress(domain.ServiceSMS, "+2")},
			{ID: "r3"},
		},
		ReceiptNotification: true,
		RespondBy:           60,
	}
}

func TestStore_UpdateMessageVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	msg := newMessage("m1")
	require.NoError(t, store.SaveMessage(ctx, msg))

	first, err := store.GetMessageByID(ctx, "m1")
	require.NoError(t, err)
	second, err := store.GetMessageByID(ctx, "m1")
	require.NoError(t, err)

	first.AppendStatus(domain.DeliveryStatus{ID: "a"})
	require.NoError(t, store.UpdateMessage(ctx, first))

	second.AppendStatus(domain.DeliveryStatus{ID: "b"})
	assert.ErrorIs(t, store.UpdateMessage(ctx, second), domain.ErrVersionConflict)

	stored, err := store.GetMessageByID(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, stored.DeliveryStatuses, 1)
	assert.Equal(t, "a", stored.DeliveryStatuses[0].ID)
}

func TestStore_ResponsesCountAddressedRecipients(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.SaveMessage(ctx, newMessage("m1")))

	state, err := store.RecordResponse(ctx, "m1", "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseState{Total: 2, Responded: 1}, state)

	state, err = store.RecordResponse(ctx, "m1", "r1")
	require.NoError(t, err)
	assert.False(t, state.Complete())

	state, err = store.RecordResponse(ctx, "m1", "r2")
	require.NoError(t, err)
	assert.True(t, state.Complete())

	_, err = store.RecordResponse(ctx, "missing", "r1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_DeleteMessageDropsReferences(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.SaveMessage(ctx, newMessage("m1")))
	require.NoError(t, store.SaveMessageReference(ctx, "m1", "r1", "ref-1"))

	require.NoError(t, store.DeleteMessage(ctx, "m1"))

	_, err := store.GetRecipientIDByReference(ctx, "ref-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, store.References())
}

func TestScheduler_ClaimDue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore()
	sched := NewScheduler(store, func() time.Time { return now })

	for _, id := range []string{"none", "partial", "full"} {
		msg := newMessage(id)
		require.NoError(t, store.SaveMessage(ctx, msg))
		require.NoError(t, sched.ArmResponseTimeout(ctx, msg))
	}
	_, err := store.RecordResponse(ctx, "partial", "r1")
	require.NoError(t, err)
	_, err = store.RecordResponse(ctx, "full", "r1")
	require.NoError(t, err)
	_, err = store.RecordResponse(ctx, "full", "r2")
	require.NoError(t, err)

	due, err := sched.ClaimDue(ctx, now.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = sched.ClaimDue(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	reasons := map[string]domain.TimeoutReason{}
	for _, d := range due {
		reasons[d.Message.ID] = d.Reason
	}
	assert.Equal(t, map[string]domain.TimeoutReason{
		"none":    domain.NoResponses,
		"partial": domain.PartialResponses,
	}, reasons)

	due, err = sched.ClaimDue(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

type flakyReader struct {
	*Store
	failID string
}

func (r flakyReader) ResponseState(ctx context.Context, id string) (domain.ResponseState, error) {
	if id == r.failID {
		return domain.ResponseState{}, errors.New("state unavailable")
	}
	return r.Store.ResponseState(ctx, id)
}

func TestScheduler_ClaimDueRearmsUnreadable(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore()
	sched := NewScheduler(flakyReader{Store: store, failID: "broken"}, func() time.Time { return now })

	for _, id := range []string{"healthy", "broken", "deleted"} {
		msg := newMessage(id)
		require.NoError(t, store.SaveMessage(ctx, msg))
		require.NoError(t, sched.ArmResponseTimeout(ctx, msg))
	}
	require.NoError(t, store.DeleteMessage(ctx, "deleted"))

	due, err := sched.ClaimDue(ctx, now.Add(time.Hour), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	require.Len(t, due, 1)
	assert.Equal(t, "healthy", due[0].Message.ID)

	assert.True(t, sched.Armed("broken"))
	assert.False(t, sched.Armed("deleted"))
	assert.False(t, sched.Armed("healthy"))
}

func TestLocker_Serializes(t *testing.T) {
	locker := NewLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(short, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := locker.Lock(ctx, "k")
	require.NoError(t, err)
	unlock2()
}
