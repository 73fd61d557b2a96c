package channels

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTrackerRegisterUnregisterCountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("s1", Handle{})
	u2 := tr.Register("s2", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTrackerSecondConnectionDisplacesFirst(t *testing.T) {
	tr := NewTracker()
	var canceled, warned atomic.Int64
	u1 := tr.Register("s1", Handle{
		Cancel: func() { canceled.Add(1) },
		Warn: func(code, message string) error {
			if code != "superseded" {
				t.Errorf("warn code=%q, want superseded", code)
			}
			warned.Add(1)
			return nil
		},
	})
	u2 := tr.Register("s1", Handle{})

	if canceled.Load() != 1 || warned.Load() != 1 {
		t.Fatalf("displaced connection: canceled=%d warned=%d, want 1/1", canceled.Load(), warned.Load())
	}
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	// The displaced connection's own unregister must not evict the new one.
	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d after stale unregister, want 1", tr.Count())
	}
	u2()
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTrackerCancelAll(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("s1", Handle{Cancel: func() { c1.Add(1) }})
	tr.Register("s2", Handle{Cancel: func() { c2.Add(1) }})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTrackerWarnAllBestEffort(t *testing.T) {
	tr := NewTracker()
	var w1, w2 atomic.Int64
	tr.Register("s1", Handle{Warn: func(code, message string) error {
		w1.Add(1)
		return nil
	}})
	tr.Register("s2", Handle{Warn: func(code, message string) error {
		w2.Add(1)
		return errors.New("nope")
	}})

	if sent := tr.WarnAll("draining", "shutting down"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if w1.Load() != 1 || w2.Load() != 1 {
		t.Fatalf("warn calls=%d/%d, want 1/1", w1.Load(), w2.Load())
	}
}
