package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestEvent implements the TypedEvent interface for testing purposes.
type TestEvent struct {
	Type    string
	Payload string
}

func (e TestEvent) EventType() string {
	return e.Type
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	ch, cancel, err := b.Subscribe("jobs")
	require.NoError(t, err)
	defer cancel()

	ctx, cancelCtx := context.WithTimeout(context.Background(), time.Second)
	defer cancelCtx()
	b.Publish(ctx, "jobs", TestEvent{Type: "job.started", Payload: "hello"})

	select {
	case v := <-ch:
		typed, ok := v.(TestEvent)
		require.True(t, ok, "expected TestEvent, got %T", v)
		require.Equal(t, "hello", typed.Payload)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_CancelUnsubscribe(t *testing.T) {
	b := New()
	ch, cancel, err := b.Subscribe("jobs")
	require.NoError(t, err)
	cancel()

	_, ok := <-ch
	require.False(t, ok, "expected closed channel after cancel")

	// Publishing to a topic without subscribers is a no-op.
	b.Publish(context.Background(), "jobs", TestEvent{Type: "job.started"})
}

func TestBus_FullSubscriberDrops(t *testing.T) {
	b := New()
	ch, cancel, err := b.SubscribeBuffered("jobs", 1)
	require.NoError(t, err)
	defer cancel()

	b.Publish(context.Background(), "jobs", TestEvent{Type: "a"})
	b.Publish(context.Background(), "jobs", TestEvent{Type: "b"})

	require.Equal(t, uint64(1), b.Dropped())
	require.Equal(t, "a", (<-ch).EventType())
}

func TestBus_Close(t *testing.T) {
	b := New()
	ch1, _, _ := b.Subscribe("t")
	ch2, _, _ := b.Subscribe("t")
	b.Close()
	b.Close()

	for i, ch := range []<-chan TypedEvent{ch1, ch2} {
		_, ok := <-ch
		require.False(t, ok, "expected ch%d closed", i+1)
	}

	late, _, err := b.Subscribe("t")
	require.NoError(t, err)
	_, ok := <-late
	require.False(t, ok, "subscribe after close returns a closed channel")
}
