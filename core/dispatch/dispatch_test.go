package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsInPostOrder(t *testing.T) {
	d := New()
	d.Start()
	defer d.Stop(context.Background())

	var (
		mu  sync.Mutex
		got []int
	)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			d.Post(func() {})
		}
	}()
	// A single poster keeps its order while another goroutine interleaves.
	for i := 0; i < 500; i++ {
		i := i
		d.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 500)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestDispatcherPostDoesNotBlockOnSlowCallback(t *testing.T) {
	d := New()
	d.Start()
	defer d.Stop(context.Background())

	release := make(chan struct{})
	d.Post(func() { <-release })

	posted := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			d.Post(func() {})
		}
		close(posted)
	}()

	select {
	case <-posted:
	case <-time.After(time.Second):
		t.Fatal("Post blocked behind a slow callback")
	}
	close(release)
}

func TestDispatcherWorkPostedBeforeStart(t *testing.T) {
	d := New()
	ran := make(chan struct{})
	d.Post(func() { close(ran) })
	d.Start()
	defer d.Stop(context.Background())

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("queued work did not run after Start")
	}
}

func TestDispatcherStopDrainsAndRejects(t *testing.T) {
	d := New()
	d.Start()

	var count int
	for i := 0; i < 10; i++ {
		d.Post(func() { count++ })
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
	require.Equal(t, 10, count)

	require.False(t, d.Post(func() { count++ }))
	require.Error(t, d.Flush(ctx))
	require.NoError(t, d.Stop(ctx))
}

func TestDispatcherSurvivesPanickingCallback(t *testing.T) {
	d := New()
	d.Start()
	defer d.Stop(context.Background())

	d.Post(func() { panic("observer bug") })
	ran := make(chan struct{})
	d.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("dispatcher stopped after a panic")
	}
}
