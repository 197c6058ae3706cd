package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiveReturnsMessagesInFIFOOrder(t *testing.T) {
	q := NewInMemory()
	q.Enqueue(Message{Body: []byte("first")})
	q.Enqueue(Message{Body: []byte("second")})

	ctx := context.Background()
	m1, err := q.Receive(ctx)
	require.NoError(t, err)
	m2, err := q.Receive(ctx)
	require.NoError(t, err)

	assert.Equal(t, "first", string(m1.Body))
	assert.Equal(t, "second", string(m2.Body))
}

func TestEnqueueHighPriorityJumpsTheLine(t *testing.T) {
	q := NewInMemory()
	q.Enqueue(Message{Body: []byte("normal-1")})
	q.Enqueue(Message{Body: []byte("normal-2")})
	q.Enqueue(Message{Body: []byte("urgent"), Priority: 9})

	ctx := context.Background()
	m1, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "urgent", string(m1.Body))

	m2, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "normal-1", string(m2.Body))
}

func TestReceiveBlocksUntilEnqueueOrCancel(t *testing.T) {
	q := NewInMemory()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan Message, 1)
	go func() {
		m, _ := q.Receive(context.Background())
		done <- m
	}()
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(Message{Body: []byte("woke-up")})

	select {
	case m := <-done:
		assert.Equal(t, "woke-up", string(m.Body))
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake up after Enqueue")
	}
}

func TestNackWithRequeueRedeliversMessage(t *testing.T) {
	q := NewInMemory()
	ctx := context.Background()
	q.Enqueue(Message{Body: []byte("retry-me"), RetryCount: 1})

	msg, err := q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Nack(ctx, msg, true, "transient failure"))

	redelivered, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "retry-me", string(redelivered.Body))
	assert.Empty(t, q.DeadLettered())
}

func TestNackWithoutRequeueRoutesToDeadLetter(t *testing.T) {
	q := NewInMemory()
	ctx := context.Background()
	q.Enqueue(Message{Body: []byte("poison")})

	msg, err := q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Nack(ctx, msg, false, "max retries exceeded"))

	dlq := q.DeadLettered()
	require.Len(t, dlq, 1)
	assert.Equal(t, "poison", string(dlq[0].Body))
	assert.Equal(t, "max retries exceeded", dlq[0].Reason)
}

func TestPublishRecordsBodyByDestination(t *testing.T) {
	q := NewInMemory()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "reply.exec-1", []byte(`{"ok":true}`)))
	require.NoError(t, q.Publish(ctx, "reply.exec-1", []byte(`{"ok":false}`)))
	require.NoError(t, q.Publish(ctx, "reply.exec-2", []byte(`{"ok":true}`)))

	got := q.PublishedTo("reply.exec-1")
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"ok":true}`, string(got[0]))
	assert.JSONEq(t, `{"ok":false}`, string(got[1]))

	assert.Len(t, q.PublishedTo("reply.exec-2"), 1)
	assert.Empty(t, q.PublishedTo("reply.unknown"))
}

func TestDlqEntryStringIncludesReasonAndBody(t *testing.T) {
	e := dlqEntry{Body: []byte("boom"), Reason: "max retries exceeded"}
	s := e.String()
	assert.Contains(t, s, "boom")
	assert.Contains(t, s, "max retries exceeded")
}
