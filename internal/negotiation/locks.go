package negotiation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// participantLocks serializes commits per participant within the process.
// Keys are always acquired in sorted order so overlapping participant sets
// cannot deadlock.
type participantLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newParticipantLocks() *participantLocks {
	return &participantLocks{slots: make(map[string]chan struct{})}
}

func (l *participantLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// acquire locks every key or none. It fails with ErrLockUnavailable when the
// timeout elapses or ctx ends first.
func (l *participantLocks) acquire(ctx context.Context, keys []string, timeout time.Duration) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	held := make([]chan struct{}, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for i, key := range sorted {
		if i > 0 && sorted[i-1] == key {
			continue
		}
		ch := l.slot(key)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-timer:
			release()
			return nil, fmt.Errorf("%w: timed out waiting for %s", ErrLockUnavailable, key)
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("%w: %w", ErrLockUnavailable, ctx.Err())
		}
	}
	return release, nil
}
