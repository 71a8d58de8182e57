package redis

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewClientFrom(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMessage(id string) *domain.Message {
	return &domain.Message{
		Kind: domain.KindMessage,
		ID:   id,
		Recipients: []domain.Recipient{
			{ID: "r1", Address: domain.NewPhysicalAddress(domain.ServiceSMS, "+1")},
			{ID: "r2", Address: domain.NewPhysicalAddress(domain.ServiceSMS, "+2")},
		},
		Parts:               []domain.MessageBody{{Content: "hello"}},
		ReceiptNotification: true,
		RespondBy:           30,
	}
}

func TestConfig_Options(t *testing.T) {
	single := Config{Addr: "cache:6379", DB: 2, PoolSize: 10}.options()
	assert.Equal(t, []string{"cache:6379"}, single.Addrs)
	assert.Equal(t, 2, single.DB)
	assert.Empty(t, single.MasterName)

	sentinel := Config{
		Addr:          "cache:6379",
		SentinelAddrs: []string{"s1:26379", "s2:26379"},
		MasterName:    "courier",
	}.options()
	assert.Equal(t, []string{"s1:26379", "s2:26379"}, sentinel.Addrs)
	assert.Equal(t, "courier", sentinel.MasterName)

	cluster := Config{
		Addr:          "cache:6379",
		ClusterMode:   true,
		SentinelAddrs: []string{"s1:26379"},
	}.options()
	assert.Equal(t, []string{"cache:6379"}, cluster.Addrs)
	assert.Empty(t, cluster.MasterName)
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(Config{Addr: mr.Addr(), DialTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0))
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	addr := mr.Addr()
	mr.Close()
	_, err = NewClient(Config{Addr: addr, DialTimeout: 100 * time.Millisecond})
	assert.Error(t, err)
}

func TestStore_SaveAndUpdate(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewStore(client, time.Hour)

	msg := newMessage("m1")
	require.NoError(t, store.SaveMessage(ctx, msg))
	assert.Equal(t, int64(1), msg.Version)
	assert.True(t, mr.Exists(messageKey("m1")))

	stale, err := store.GetMessageByID(ctx, "m1")
	require.NoError(t, err)

	msg.AppendStatus(domain.DeliveryStatus{ID: "s1", Action: "Send", Status: "Delivered"})
	require.NoError(t, store.UpdateMessage(ctx, msg))
	assert.Equal(t, int64(2), msg.Version)

	stale.AppendStatus(domain.DeliveryStatus{ID: "s2"})
	assert.ErrorIs(t, store.UpdateMessage(ctx, stale), domain.ErrVersionConflict)

	got, err := store.GetMessageByID(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got.DeliveryStatuses, 1)
	assert.Equal(t, "s1", got.DeliveryStatuses[0].ID)
	assert.Equal(t, int64(2), got.Version)
}

func TestStore_UpdateUnknownMessage(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewStore(client, time.Hour)

	err := store.UpdateMessage(context.Background(), newMessage("missing"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_References(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewStore(client, time.Hour)

	require.NoError(t, store.SaveMessage(ctx, newMessage("m1")))
	require.NoError(t, store.SaveMessageReference(ctx, "m1", "r2", "ref-2"))

	msg, err := store.GetMessageByReference(ctx, "ref-2")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)

	rid, err := store.GetRecipientIDByReference(ctx, "ref-2")
	require.NoError(t, err)
	assert.Equal(t, "r2", rid)

	_, err = store.GetRecipientIDByReference(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.DeleteMessage(ctx, "m1"))
	_, err = store.GetMessageByReference(ctx, "ref-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	exists, err := store.MessageExists(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_Conversations(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewStore(client, time.Hour)

	known, err := store.IsKnownConversation(ctx, "room@conference")
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, store.SaveConversation(ctx, domain.Conversation{ID: "room@conference", MessageID: "m1"}))

	known, err = store.IsKnownConversation(ctx, "room@conference")
	require.NoError(t, err)
	assert.True(t, known)

	conv, err := store.GetConversationByID(ctx, "room@conference")
	require.NoError(t, err)
	assert.Equal(t, "m1", conv.MessageID)

	_, err = store.GetConversationByID(ctx, "other")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_RecordResponse(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewStore(client, time.Hour)

	require.NoError(t, store.SaveMessage(ctx, newMessage("m1")))

	state, err := store.RecordResponse(ctx, "m1", "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseState{Total: 2, Responded: 1}, state)

	state, err = store.RecordResponse(ctx, "m1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Responded)

	state, err = store.RecordResponse(ctx, "m1", "r2")
	require.NoError(t, err)
	assert.True(t, state.Complete())

	_, err = store.RecordResponse(ctx, "unknown", "r1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_TTL(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewStore(client, time.Minute)

	require.NoError(t, store.SaveMessage(ctx, newMessage("m1")))
	mr.FastForward(2 * time.Minute)

	_, err := store.GetMessageByID(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocker_Serializes(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	locker := NewLocker(client, 5*time.Second)

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "m1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocker_ContextCancelled(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewLocker(client, 5*time.Second)

	unlock, err := locker.Lock(context.Background(), "m1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)
}

func TestTimeoutScheduler_ClaimDue(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewStore(client, time.Hour)
	sched := NewTimeoutScheduler(client, store, testLogger())

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return base }

	for _, id := range []string{"none", "partial", "done", "cancelled"} {
		msg := newMessage(id)
		require.NoError(t, store.SaveMessage(ctx, msg))
		require.NoError(t, sched.ArmResponseTimeout(ctx, msg))
	}

	_, err := store.RecordResponse(ctx, "partial", "r1")
	require.NoError(t, err)
	_, err = store.RecordResponse(ctx, "done", "r1")
	require.NoError(t, err)
	_, err = store.RecordResponse(ctx, "done", "r2")
	require.NoError(t, err)
	require.NoError(t, sched.CancelResponseTimeout(ctx, "cancelled"))

	due, err := sched.ClaimDue(ctx, base.Add(10*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = sched.ClaimDue(ctx, base.Add(31*time.Second), 10)
	require.NoError(t, err)

	reasons := map[string]domain.TimeoutReason{}
	for _, d := range due {
		reasons[d.Message.ID] = d.Reason
	}
	assert.Equal(t, map[string]domain.TimeoutReason{
		"none":    domain.NoResponses,
		"partial": domain.PartialResponses,
	}, reasons)

	pending, err := sched.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	due, err = sched.ClaimDue(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestTimeoutScheduler_ClaimDueRearmsUnreadable(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewStore(client, time.Hour)
	sched := NewTimeoutScheduler(client, store, testLogger())

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return base }

	for _, id := range []string{"healthy", "corrupt"} {
		msg := newMessage(id)
		require.NoError(t, store.SaveMessage(ctx, msg))
		require.NoError(t, sched.ArmResponseTimeout(ctx, msg))
	}
	require.NoError(t, mr.Set(messageKey("corrupt"), "not-json"))

	due, err := sched.ClaimDue(ctx, base.Add(time.Hour), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
	require.Len(t, due, 1)
	assert.Equal(t, "healthy", due[0].Message.ID)
	assert.Equal(t, domain.NoResponses, due[0].Reason)

	pending, err := sched.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	score, err := mr.ZScore(KeyTimeouts, "corrupt")
	require.NoError(t, err)
	assert.Equal(t, float64(base.Add(30*time.Second).UnixMilli()), score)
}

func TestQueue_InjectAndPop(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	queue := NewQueue(client, "courier:inject")

	require.NoError(t, queue.Inject(ctx, newMessage("m1")))
	require.NoError(t, queue.Inject(ctx, newMessage("m2")))

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	data, err := queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	msg, err := domain.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)

	data, err = queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	msg, err = domain.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "m2", msg.ID)
}

func TestSignalFilter_FirstSeen(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	filter := NewSignalFilter(client, time.Minute)

	first, err := filter.FirstSeen(ctx, "timeout:m1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := filter.FirstSeen(ctx, "timeout:m1")
	require.NoError(t, err)
	assert.False(t, again)

	mr.FastForward(2 * time.Minute)
	first, err = filter.FirstSeen(ctx, "timeout:m1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestSignalFilter_Forget(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	filter := NewSignalFilter(client, time.Minute)

	first, err := filter.FirstSeen(ctx, "unreachable:m1:ALL_HANDLERS")
	require.NoError(t, err)
	require.True(t, first)

	require.NoError(t, filter.Forget(ctx, "unreachable:m1:ALL_HANDLERS"))

	first, err = filter.FirstSeen(ctx, "unreachable:m1:ALL_HANDLERS")
	require.NoError(t, err)
	assert.True(t, first)

	require.NoError(t, filter.Forget(ctx, "never-seen"))
}

func TestScanner_PurgeOrphanReferences(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewStore(client, time.Hour)
	scanner := NewScanner(client, 100, testLogger())

	require.NoError(t, store.SaveMessage(ctx, newMessage("live")))
	require.NoError(t, store.SaveMessageReference(ctx, "live", "r1", "ref-live"))
	require.NoError(t, store.SaveMessageReference(ctx, "gone", "r1", "ref-gone"))

	removed, err := scanner.PurgeOrphanReferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, mr.Exists(referenceKey("ref-live")))
	assert.False(t, mr.Exists(referenceKey("ref-gone")))
}
