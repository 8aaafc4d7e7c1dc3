// Package lock provides a keyed FIFO mutex: at most one operation runs per
// key at a time, later callers queue in arrival order, and a key's entry is
// dropped as soon as its queue drains.
package lock

import (
	"context"
	"sync"
)

// Keyed serializes operations per key. Operations on distinct keys run
// independently. The zero value is not usable; call NewKeyed.
type Keyed struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewKeyed returns an empty keyed lock.
func NewKeyed() *Keyed {
	return &Keyed{tails: make(map[string]chan struct{})}
}

// Do runs fn once every earlier operation queued for key has settled.
// fn's error is returned unchanged; a failing fn does not block later
// operations on the same key. If ctx is cancelled while waiting, Do
// relinquishes its queue slot without running fn and returns ctx.Err().
func (k *Keyed) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	k.mu.Lock()
	prev := k.tails[key]
	done := make(chan struct{})
	k.tails[key] = done
	k.mu.Unlock()

	release := func() {
		k.mu.Lock()
		if k.tails[key] == done {
			delete(k.tails, key)
		}
		k.mu.Unlock()
		close(done)
	}

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Hand the slot to the successor only after the predecessor
			// settles, preserving FIFO order for everyone behind us.
			go func() {
				<-prev
				release()
			}()
			return ctx.Err()
		}
	}

	defer release()
	return fn(ctx)
}

// Pending reports how many keys currently hold a queue entry. Used for
// observability and leak checks.
func (k *Keyed) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.tails)
}
