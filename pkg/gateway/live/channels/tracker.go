// Package channels tracks the live connections currently attached to
// sessions, for drain on shutdown and single-connection enforcement.
package channels

import (
	"context"
	"sync"
)

// Handle exposes the control surface of one live connection. Supersede is
// invoked when another connection takes the session over; it must not pause
// the session, which now belongs to the new connection. Cancel is the drain
// path and does pause.
type Handle struct {
	Cancel    func()
	Supersede func()
	Warn      func(code, message string) error
}

// Tracker indexes live connections by session. At most one connection is
// tracked per session; registering a second displaces and cancels the first.
type Tracker struct {
	mu    sync.Mutex
	conns map[string]*trackedConn
	wg    sync.WaitGroup
}

type trackedConn struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		conns: make(map[string]*trackedConn),
	}
}

// Register attaches a connection to a session and returns its unregister
// func. A previous connection on the same session is warned, canceled, and
// dropped from the tracker.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedConn{handle: h}

	t.mu.Lock()
	if t.conns == nil {
		t.conns = make(map[string]*trackedConn)
	}
	old := t.conns[sessionID]
	t.conns[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		if old.handle.Warn != nil {
			_ = old.handle.Warn("superseded", "session attached from another connection")
		}
		switch {
		case old.handle.Supersede != nil:
			old.handle.Supersede()
		case old.handle.Cancel != nil:
			old.handle.Cancel()
		}
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *trackedConn) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.conns != nil && t.conns[sessionID] == entry {
			delete(t.conns, sessionID)
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
	return len(t.conns)
}

// WarnAll sends a best-effort warning to every tracked connection.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}

	var warns []func(code, message string) error
	t.mu.Lock()
	for _, entry := range t.conns {
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

// CancelAll cancels every tracked connection. Connections pause their
// sessions on the way down, so resume keeps working after a restart.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.conns {
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

// Wait blocks until every tracked connection has unregistered or the context
// expires. Returns false on timeout.
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
