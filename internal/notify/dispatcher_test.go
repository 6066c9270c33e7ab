package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-billing-worker/internal/clock"
	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memoryStore records appended notifications and fails for titles listed in failTitles
type memoryStore struct {
	mu         sync.Mutex
	stored     []db.Notification
	failTitles map[string]bool
	acquired   int
	released   int
}

func (s *memoryStore) AppendNotification(ctx context.Context, n *db.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTitles[n.Title] {
		return errors.New("connection reset")
	}
	if n.Title == "panic" {
		panic("boom")
	}
	s.stored = append(s.stored, *n)
	return nil
}

func (s *memoryStore) acquire(ctx context.Context) (Store, func(), error) {
	s.mu.Lock()
	s.acquired++
	s.mu.Unlock()
	return s, func() {
		s.mu.Lock()
		s.released++
		s.mu.Unlock()
	}, nil
}

func (s *memoryStore) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	titles := make([]string, 0, len(s.stored))
	for _, n := range s.stored {
		titles = append(titles, n.Title)
	}
	return titles
}

type recordingForwarder struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (f *recordingForwarder) PublishNotification(ctx context.Context, n db.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, n.ID)
	return f.err
}

func TestDispatcher_Dispatch(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &memoryStore{}
	forwarder := &recordingForwarder{}
	d := NewDispatcher(DispatcherConfig{
		Queue:     NewQueue(),
		Acquire:   store.acquire,
		Clock:     clock.NewFixed(now),
		Logger:    zap.NewNop(),
		Forwarder: forwarder,
	})

	userID, billID := uuid.New(), uuid.New()
	event := NewDueDateReminder(userID, billID, decimal.NewFromInt(99), now.AddDate(0, 0, 3), now, 3)

	require.NoError(t, d.Dispatch(context.Background(), event))

	require.Len(t, store.stored, 1)
	n := store.stored[0]
	assert.Equal(t, userID, n.UserID)
	assert.Equal(t, &billID, n.BillID)
	assert.Equal(t, "DueDateReminder", n.Type)
	assert.Equal(t, event.Message, n.Message)
	assert.False(t, n.IsRead)
	assert.Equal(t, now, n.CreatedAt)
	require.NotNil(t, n.DedupKey)
	assert.Equal(t, event.DedupKey().String(), *n.DedupKey)

	assert.Equal(t, []uuid.UUID{n.ID}, forwarder.ids)
	assert.Equal(t, 1, store.acquired)
	assert.Equal(t, 1, store.released)
}

func TestDispatcher_ForwardFailureKeepsNotification(t *testing.T) {
	store := &memoryStore{}
	d := NewDispatcher(DispatcherConfig{
		Queue:     NewQueue(),
		Acquire:   store.acquire,
		Forwarder: &recordingForwarder{err: errors.New("channel closed")},
	})

	require.NoError(t, d.Dispatch(context.Background(), testEvent("kept")))
	assert.Equal(t, []string{"kept"}, store.titles())
}

func TestDispatcher_AcquireFailure(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		Queue: NewQueue(),
		Acquire: func(ctx context.Context) (Store, func(), error) {
			return nil, nil, errors.New("pool exhausted")
		},
	})

	err := d.Dispatch(context.Background(), testEvent("x"))
	assert.Error(t, err)
}

func TestDispatcher_RunContinuesAfterFailures(t *testing.T) {
	q := NewQueue()
	store := &memoryStore{failTitles: map[string]bool{"bad": true}}
	d := NewDispatcher(DispatcherConfig{Queue: q, Acquire: store.acquire, Logger: zap.NewNop()})

	for _, title := range []string{"first", "bad", "panic", "second", "third"} {
		q.Publish(testEvent(title))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(store.titles()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancellation")
	}

	assert.Equal(t, []string{"first", "second", "third"}, store.titles())
	assert.Equal(t, store.acquired, store.released)
}

type releaseCheckingForwarder struct {
	store             *memoryStore
	releasedAtPublish int
}

func (f *releaseCheckingForwarder) PublishNotification(ctx context.Context, n db.Notification) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.releasedAtPublish = f.store.released
	return nil
}

func TestDispatcher_ReleasesStoreBeforeForwarding(t *testing.T) {
	store := &memoryStore{}
	forwarder := &releaseCheckingForwarder{store: store}
	d := NewDispatcher(DispatcherConfig{Queue: NewQueue(), Acquire: store.acquire, Forwarder: forwarder})

	require.NoError(t, d.Dispatch(context.Background(), testEvent("ok")))
	assert.Equal(t, 1, forwarder.releasedAtPublish)
}

func TestDispatcher_OnFailureReceivesUnstoredEvents(t *testing.T) {
	store := &memoryStore{failTitles: map[string]bool{"bad": true}}
	var failed []string
	d := NewDispatcher(DispatcherConfig{
		Queue:   NewQueue(),
		Acquire: store.acquire,
		OnFailure: func(e Event) {
			failed = append(failed, e.Title)
		},
	})

	require.NoError(t, d.Dispatch(context.Background(), testEvent("good")))
	assert.Error(t, d.Dispatch(context.Background(), testEvent("bad")))
	assert.Error(t, d.Dispatch(context.Background(), testEvent("panic")))

	assert.Equal(t, []string{"bad", "panic"}, failed)
}
