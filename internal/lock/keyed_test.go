package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRunsFunction(t *testing.T) {
	k := NewKeyed()
	ran := false
	err := k.Do(context.Background(), "a", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 0, k.Pending())
}

func TestDoReturnsFunctionError(t *testing.T) {
	k := NewKeyed()
	want := errors.New("boom")
	err := k.Do(context.Background(), "a", func(context.Context) error {
		return want
	})
	assert.ErrorIs(t, err, want)

	// A failing operation must not wedge the key.
	err = k.Do(context.Background(), "a", func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestSameKeySerializesInOrder(t *testing.T) {
	k := NewKeyed()
	const n = 20

	var mu sync.Mutex
	var order []int
	started := make(chan struct{}, n)

	var wg sync.WaitGroup
	first := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = k.Do(context.Background(), "a", func(context.Context) error {
			close(first)
			time.Sleep(50 * time.Millisecond)
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		})
	}()
	<-first

	// Queue the rest one at a time so arrival order is deterministic.
	for i := 1; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			_ = k.Do(context.Background(), "a", func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		<-started
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	require.Len(t, order, n)
	for i, got := range order {
		assert.Equal(t, i, got, "operation %d ran out of turn", i)
	}
	assert.Equal(t, 0, k.Pending())
}

func TestDistinctKeysRunConcurrently(t *testing.T) {
	k := NewKeyed()
	aEntered := make(chan struct{})
	releaseA := make(chan struct{})

	go func() {
		_ = k.Do(context.Background(), "a", func(context.Context) error {
			close(aEntered)
			<-releaseA
			return nil
		})
	}()
	<-aEntered

	// Key "b" must not wait for "a".
	done := make(chan struct{})
	go func() {
		_ = k.Do(context.Background(), "b", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("operation on independent key blocked")
	}
	close(releaseA)
}

func TestCancelWhileWaiting(t *testing.T) {
	k := NewKeyed()
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = k.Do(context.Background(), "a", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- k.Do(ctx, "a", func(context.Context) error {
			t.Error("cancelled waiter must not run")
			return nil
		})
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	// A waiter queued behind the cancelled one still runs once the head
	// releases.
	ran := make(chan struct{})
	go func() {
		_ = k.Do(context.Background(), "a", func(context.Context) error {
			close(ran)
			return nil
		})
	}()

	close(release)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("successor of cancelled waiter never ran")
	}

	// Queue entries drain once everything settles.
	assert.Eventually(t, func() bool { return k.Pending() == 0 },
		time.Second, 10*time.Millisecond)
}
