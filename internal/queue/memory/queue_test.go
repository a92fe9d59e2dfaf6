package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bugscope/internal/queue"
)

func TestQueueDequeueWaitsForEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	got := make(chan queue.Message, 1)
	go func() {
		msg, err := q.Dequeue(context.Background())
		if err == nil {
			got <- msg
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), queue.Message{ID: "m-1", Task: "fetch", State: map[string]int64{"total_issues_count": 7}}, 0))
	select {
	case msg := <-got:
		require.Equal(t, "m-1", msg.ID)
		require.Equal(t, int64(7), msg.State["total_issues_count"])
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return message")
	}
}

func TestQueueDelayedDelivery(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	require.NoError(t, q.Enqueue(context.Background(), queue.Message{ID: "later"}, 50*time.Millisecond))
	require.NoError(t, q.Enqueue(context.Background(), queue.Message{ID: "now"}, 0))
	require.Equal(t, 1, q.Pending())

	first, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "now", first.ID)

	start := time.Now()
	second, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "later", second.ID)
	require.False(t, second.NotBefore.IsZero())
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestQueueCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), queue.Message{ID: "primed"}, 0))
	require.ErrorIs(t, full.Enqueue(ctx, queue.Message{ID: "overflow"}, 0), context.Canceled)
}

func TestQueueDelayedReleaseRetriesWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), queue.Message{ID: "blocker"}, 0))
	require.NoError(t, q.Enqueue(context.Background(), queue.Message{ID: "delayed"}, 5*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	first, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "blocker", first.ID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "delayed", second.ID)
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), queue.Message{ID: "x"}, time.Hour))
	q.Close()
	require.Zero(t, q.Pending())
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, queue.ErrClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), queue.Message{}, 0), queue.ErrClosed)
	require.NotPanics(t, q.Close)
}

func TestQueueCloseReleasesBlockedEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), queue.Message{ID: "primed"}, 0))

	errs := make(chan error, 1)
	go func() {
		errs <- q.Enqueue(context.Background(), queue.Message{ID: "blocked"}, 0)
	}()
	time.Sleep(30 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close waited on a blocked enqueue")
	}

	select {
	case err := <-errs:
		require.ErrorIs(t, err, queue.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue did not return after close")
	}
}

func TestQueueBlockedEnqueueDeliversOnceSpaceFrees(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), queue.Message{ID: "first"}, 0))

	errs := make(chan error, 1)
	go func() {
		errs <- q.Enqueue(context.Background(), queue.Message{ID: "second"}, 0)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", first.ID)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", second.ID)
	require.NoError(t, <-errs)
}

func TestQueueDeadLetter(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.DeadLetter(context.Background(), queue.Message{ID: "d", Task: "classify"}, "max retries"))
	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	require.Equal(t, "max retries", dead[0].Reason)
}
