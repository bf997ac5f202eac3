// Package sessions tracks open live calls so shutdown can warn them,
// wait for them to finish, and finally cancel the stragglers.
package sessions

import (
	"context"
	"sync"
)

// Handle exposes the two controls a tracked call offers the process:
// a hard cancel and a best-effort warning frame.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

// Tracker is a registry of running live calls keyed by session ID.
type Tracker struct {
	mu   sync.Mutex
	open map[string]*liveCall
	wg   sync.WaitGroup
}

type liveCall struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		open: make(map[string]*liveCall),
	}
}

// Register adds a call and returns its unregister func. Unregister is
// idempotent. Re-registering a session ID retires the previous entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &liveCall{handle: h}

	t.mu.Lock()
	if t.open == nil {
		t.open = make(map[string]*liveCall)
	}
	prev := t.open[sessionID]
	t.open[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if prev != nil {
		t.drop(sessionID, prev)
	}

	return func() { t.drop(sessionID, entry) }
}

func (t *Tracker) drop(sessionID string, entry *liveCall) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.open != nil && t.open[sessionID] == entry {
			delete(t.open, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// WarnAll sends a warning frame to every open call. Handles are invoked
// outside the lock because Warn may block on the socket.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}

	var warns []func(code, message string) error
	t.mu.Lock()
	for _, entry := range t.open {
		if entry == nil || entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll force-closes every open call.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.open {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every call has unregistered or ctx expires. It
// reports whether the tracker fully drained.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
