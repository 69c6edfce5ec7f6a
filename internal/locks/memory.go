package locks

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is an in-process lock provider. It offers the same
// acquire-with-timeout semantics as the distributed provider but only
// within a single process, which makes it suitable for single-node
// deployments, local development, and tests.
type MemoryProvider struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryProvider creates an empty in-process lock provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		slots: make(map[string]chan struct{}),
	}
}

// slot returns the single-entry channel guarding the given key.
func (p *MemoryProvider) slot(key string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		p.slots[key] = s
	}
	return s
}

// Acquire takes the lock for key, waiting up to wait for it to become
// free. It returns ErrLockTimeout when the wait budget elapses and the
// context's error when the caller gives up first.
func (p *MemoryProvider) Acquire(ctx context.Context, key string, wait time.Duration) (Handle, error) {
	s := p.slot(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return &memoryHandle{slot: s}, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// memoryHandle releases the slot exactly once, no matter how many times
// Release is called.
type memoryHandle struct {
	slot chan struct{}
	once sync.Once
}

func (h *memoryHandle) Release(_ context.Context) error {
	h.once.Do(func() {
		<-h.slot
	})
	return nil
}
