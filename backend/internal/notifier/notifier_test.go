package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-reminders/backend/internal/worker"
)

func setupTestScheduler(t *testing.T, grant bool) (*RedisScheduler, *redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisScheduler(client, "test", grant), client, mr
}

type collectingDeliverer struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (c *collectingDeliverer) Deliver(_ context.Context, alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *collectingDeliverer) delivered() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

func TestRedisScheduler_Permission(t *testing.T) {
	ctx := context.Background()

	s, _, _ := setupTestScheduler(t, true)
	granted, err := s.Permission(ctx)
	require.NoError(t, err)
	assert.False(t, granted, "never asked counts as denied")

	granted, err = s.RequestPermission(ctx)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = s.Permission(ctx)
	require.NoError(t, err)
	assert.True(t, granted)

	denied, _, _ := setupTestScheduler(t, false)
	granted, err = denied.RequestPermission(ctx)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestRedisScheduler_ScheduleReplacesPending(t *testing.T) {
	ctx := context.Background()
	s, _, _ := setupTestScheduler(t, true)

	first := time.Now().Add(time.Hour).UTC()
	second := first.Add(time.Hour)

	ok, err := s.ScheduleAlert(ctx, "task-1", first, "Reminder", "old name")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ScheduleAlert(ctx, "task-1", second, "Reminder", "new name")
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	alert, found, err := s.Pending(ctx, "task-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "new name", alert.Body)
	assert.True(t, alert.FireAt.Equal(second))
}

func TestRedisScheduler_Cancel(t *testing.T) {
	ctx := context.Background()
	s, _, _ := setupTestScheduler(t, true)

	_, err := s.ScheduleAlert(ctx, "task-1", time.Now().Add(time.Hour), "Reminder", "x")
	require.NoError(t, err)

	require.NoError(t, s.CancelAlert(ctx, "task-1"))

	_, found, err := s.Pending(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, found)

	// Nothing pending is not an error.
	assert.NoError(t, s.CancelAlert(ctx, "task-1"))
	assert.NoError(t, s.CancelAlert(ctx, "never-scheduled"))
}

func TestRedisScheduler_ClaimDue(t *testing.T) {
	ctx := context.Background()
	s, _, _ := setupTestScheduler(t, true)
	now := time.Now()

	_, err := s.ScheduleAlert(ctx, "late", now.Add(-time.Minute), "Reminder", "late")
	require.NoError(t, err)
	_, err = s.ScheduleAlert(ctx, "later", now.Add(-time.Second), "Reminder", "later")
	require.NoError(t, err)
	_, err = s.ScheduleAlert(ctx, "future", now.Add(time.Hour), "Reminder", "future")
	require.NoError(t, err)

	alerts, err := s.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "late", alerts[0].Key)
	assert.Equal(t, "later", alerts[1].Key)

	// Claimed alerts are gone; firing never re-arms.
	again, err := s.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	count, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisScheduler_ClaimDueRespectsLimit(t *testing.T) {
	ctx := context.Background()
	s, _, _ := setupTestScheduler(t, true)
	past := time.Now().Add(-time.Minute)

	for _, key := range []string{"a", "b", "c"} {
		_, err := s.ScheduleAlert(ctx, key, past, "Reminder", key)
		require.NoError(t, err)
	}

	alerts, err := s.ClaimDue(ctx, time.Now(), 2)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)

	alerts, err = s.ClaimDue(ctx, time.Now(), 2)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestRedisScheduler_RedisDown(t *testing.T) {
	ctx := context.Background()
	s, _, mr := setupTestScheduler(t, true)
	mr.Close()

	_, err := s.ScheduleAlert(ctx, "task-1", time.Now(), "Reminder", "x")
	assert.Error(t, err)
	assert.Error(t, s.CancelAlert(ctx, "task-1"))
}

func TestDispatcher_EnqueuesDueAlerts(t *testing.T) {
	ctx := context.Background()
	s, client, _ := setupTestScheduler(t, true)
	_, err := s.RequestPermission(ctx)
	require.NoError(t, err)

	_, err = s.ScheduleAlert(ctx, "task-1", time.Now().Add(-time.Second), "Reminder", "Buy milk")
	require.NoError(t, err)
	_, err = s.ScheduleAlert(ctx, "task-2", time.Now().Add(time.Hour), "Reminder", "Later")
	require.NoError(t, err)

	queue := worker.NewJobQueue(client)
	d := NewDispatcher(s, queue, DispatcherConfig{Queue: "reminders_test", MaxTries: 5})

	n, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	size, err := queue.GetQueueSize("reminders_test")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	n, err = d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "an alert is dispatched at most once")
}

func TestDispatcher_DropsWithoutPermission(t *testing.T) {
	ctx := context.Background()
	s, client, _ := setupTestScheduler(t, false)
	_, err := s.RequestPermission(ctx)
	require.NoError(t, err)

	ok, err := s.ScheduleAlert(ctx, "task-1", time.Now().Add(-time.Second), "Reminder", "x")
	require.NoError(t, err)
	assert.True(t, ok, "scheduling is still recorded without permission")

	queue := worker.NewJobQueue(client)
	d := NewDispatcher(s, queue, DispatcherConfig{Queue: "reminders_test"})

	n, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	size, err := queue.GetQueueSize("reminders_test")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	count, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "dropped alerts are not re-armed")
}

func TestDispatcher_EndToEndDelivery(t *testing.T) {
	ctx := context.Background()
	s, client, _ := setupTestScheduler(t, true)
	_, err := s.RequestPermission(ctx)
	require.NoError(t, err)

	deliverer := &collectingDeliverer{}
	w := worker.NewWorker(worker.WorkerConfig{
		RedisClient:  client,
		PollInterval: 10 * time.Millisecond,
		Queues:       []string{"reminders_test", worker.DefaultRetryQueue},
	})
	w.RegisterHandler(worker.JobTypeTaskReminder, DeliveryHandler(deliverer))
	w.Start(1)
	defer w.Stop()

	d := NewDispatcher(s, worker.NewJobQueue(client), DispatcherConfig{
		Queue:    "reminders_test",
		Interval: 10 * time.Millisecond,
	})
	d.Start()
	defer d.Stop()

	fireAt := time.Now().Add(20 * time.Millisecond)
	_, err = s.ScheduleAlert(ctx, "task-1", fireAt, "Reminder", "Water plants")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(deliverer.delivered()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := deliverer.delivered()[0]
	assert.Equal(t, "task-1", got.Key)
	assert.Equal(t, "Reminder", got.Title)
	assert.Equal(t, "Water plants", got.Body)
	assert.WithinDuration(t, fireAt, got.FireAt, time.Millisecond)
}

func TestDeliveryHandler(t *testing.T) {
	deliverer := &collectingDeliverer{}
	handler := DeliveryHandler(deliverer)

	alert := Alert{
		Key:    "task-1",
		FireAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Title:  "Reminder",
		Body:   "Stand-up",
	}

	require.NoError(t, handler(context.Background(), &worker.Job{Payload: alert.Payload()}))
	require.Len(t, deliverer.delivered(), 1)
	assert.True(t, deliverer.delivered()[0].FireAt.Equal(alert.FireAt))

	err := handler(context.Background(), &worker.Job{Payload: map[string]interface{}{"title": "no key"}})
	assert.Error(t, err)

	deliverer.err = errors.New("socket closed")
	assert.Error(t, handler(context.Background(), &worker.Job{Payload: alert.Payload()}))
}

func TestMultiDeliverer(t *testing.T) {
	ok := &collectingDeliverer{}
	broken := &collectingDeliverer{err: errors.New("boom")}

	err := MultiDeliverer{broken, ok}.Deliver(context.Background(), Alert{Key: "k"})
	assert.Error(t, err)
	assert.Len(t, ok.delivered(), 1, "one failing deliverer does not block the others")
}

func TestMemoryScheduler_FiresOnceAfterReplace(t *testing.T) {
	ctx := context.Background()
	deliverer := &collectingDeliverer{}
	s := NewMemoryScheduler(deliverer, true)
	defer s.Close()

	_, err := s.RequestPermission(ctx)
	require.NoError(t, err)

	_, err = s.ScheduleAlert(ctx, "task-1", time.Now().Add(20*time.Millisecond), "Reminder", "first")
	require.NoError(t, err)
	_, err = s.ScheduleAlert(ctx, "task-1", time.Now().Add(30*time.Millisecond), "Reminder", "second")
	require.NoError(t, err)
	assert.Equal(t, 1, s.PendingCount())

	require.Eventually(t, func() bool {
		return len(deliverer.delivered()) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	got := deliverer.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Body)

	_, found := s.Pending("task-1")
	assert.False(t, found)
}

func TestMemoryScheduler_CancelPreventsDelivery(t *testing.T) {
	ctx := context.Background()
	deliverer := &collectingDeliverer{}
	s := NewMemoryScheduler(deliverer, true)
	defer s.Close()
	_, _ = s.RequestPermission(ctx)

	_, err := s.ScheduleAlert(ctx, "task-1", time.Now().Add(20*time.Millisecond), "Reminder", "x")
	require.NoError(t, err)
	require.NoError(t, s.CancelAlert(ctx, "task-1"))
	require.NoError(t, s.CancelAlert(ctx, "task-1"))

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, deliverer.delivered())
}

func TestMemoryScheduler_DeniedDrops(t *testing.T) {
	ctx := context.Background()
	deliverer := &collectingDeliverer{}
	s := NewMemoryScheduler(deliverer, false)
	defer s.Close()
	_, _ = s.RequestPermission(ctx)

	ok, err := s.ScheduleAlert(ctx, "task-1", time.Now().Add(-time.Second), "Reminder", "x")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool { return s.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, deliverer.delivered())
}

func TestMemoryScheduler_ClosedRejects(t *testing.T) {
	s := NewMemoryScheduler(nil, true)
	s.Close()

	ok, err := s.ScheduleAlert(context.Background(), "task-1", time.Now(), "Reminder", "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder()
	fireAt := time.Now().Add(time.Hour)

	_, err := r.ScheduleAlert(ctx, "task-1", fireAt, "Reminder", "x")
	require.NoError(t, err)
	require.NoError(t, r.CancelAlert(ctx, "task-1"))

	calls := r.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, OpSchedule, calls[0].Op)
	assert.Equal(t, OpCancel, calls[1].Op)
	assert.Equal(t, 0, r.PendingCount())

	r.Reset()
	r.Reject = true
	ok, err := r.ScheduleAlert(ctx, "task-2", fireAt, "Reminder", "y")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, r.Calls(), 1)

	r.ScheduleErr = errors.New("unavailable")
	_, err = r.ScheduleAlert(ctx, "task-2", fireAt, "Reminder", "y")
	assert.Error(t, err)
}
