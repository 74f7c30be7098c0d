package redisclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// localLocker serializes practitioners inside one process. It is meant for
// single-instance deployments and tests.
type localLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*localSlot
	wait  time.Duration
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalPractitionerLocker returns an in-process Locker. A wait of zero
// waits until the context is done.
func NewLocalPractitionerLocker(wait time.Duration) Locker {
	return &localLocker{
		slots: make(map[uuid.UUID]*localSlot),
		wait:  wait,
	}
}

func (l *localLocker) WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	slot := l.ref(practitionerID)
	defer l.unref(practitionerID)

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case slot.ch <- struct{}{}:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("acquire practitioner lock: %w", ctx.Err())
		}
		return ErrLockNotAcquired
	}
	defer func() { <-slot.ch }()

	return fn(ctx)
}

func (l *localLocker) ref(id uuid.UUID) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[id] = s
	}
	s.refs++
	return s
}

func (l *localLocker) unref(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[id]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, id)
	}
}
