package store

import (
	"context"
	"sync"
	"testing"

	"github.com/attune-voice/attune/pkg/core"
)

func TestMemorySessionLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rec, err := m.CreateSession(ctx, "s1", "owner-a")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if rec.State != StateCreated {
		t.Fatalf("State = %q, want %q", rec.State, StateCreated)
	}

	if _, err := m.CreateSession(ctx, "s1", "owner-a"); err == nil {
		t.Fatal("duplicate CreateSession() succeeded, want error")
	}

	if err := m.SetSessionState(ctx, "s1", StateActive); err != nil {
		t.Fatalf("SetSessionState() error = %v", err)
	}
	got, err := m.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.State != StateActive {
		t.Fatalf("State = %q, want %q", got.State, StateActive)
	}

	if err := m.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := m.GetSession(ctx, "s1"); err == nil {
		t.Fatal("GetSession() after delete succeeded, want not found")
	}
	if err := m.DeleteSession(ctx, "s1"); err == nil {
		t.Fatal("second DeleteSession() succeeded, want not found")
	}
}

func TestMemoryListSessionsFiltersOwnerAndDeleted(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.CreateSession(ctx, "a1", "owner-a")
	m.CreateSession(ctx, "a2", "owner-a")
	m.CreateSession(ctx, "b1", "owner-b")
	m.DeleteSession(ctx, "a2")

	got, err := m.ListSessions(ctx, "owner-a")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("ListSessions() = %+v, want only a1", got)
	}
}

func TestMemoryAppendAssignsContiguousSeq(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.CreateSession(ctx, "s1", "owner-a")

	for i := 0; i < 3; i++ {
		turn, err := m.AppendTurn(ctx, "s1", SpeakerUser, "hi", true)
		if err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
		if turn.Seq != int64(i+1) {
			t.Fatalf("Seq = %d, want %d", turn.Seq, i+1)
		}
	}

	turns, err := m.ReadTurns(ctx, "s1")
	if err != nil {
		t.Fatalf("ReadTurns() error = %v", err)
	}
	for i, turn := range turns {
		if turn.Seq != int64(i+1) {
			t.Fatalf("turns[%d].Seq = %d, want %d", i, turn.Seq, i+1)
		}
	}
}

func TestMemoryConcurrentAppendsStayGapFree(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.CreateSession(ctx, "s1", "owner-a")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.AppendTurn(ctx, "s1", SpeakerUser, "x", true); err != nil {
				t.Errorf("AppendTurn() error = %v", err)
			}
		}()
	}
	wg.Wait()

	turns, err := m.ReadTurns(ctx, "s1")
	if err != nil {
		t.Fatalf("ReadTurns() error = %v", err)
	}
	if len(turns) != n {
		t.Fatalf("len(turns) = %d, want %d", len(turns), n)
	}
	seen := make(map[int64]bool)
	for _, turn := range turns {
		seen[turn.Seq] = true
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Fatalf("seq %d missing from log", i)
		}
	}
}

func TestMemoryUpdateTurn(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.CreateSession(ctx, "s1", "owner-a")

	turn, err := m.AppendTurn(ctx, "s1", SpeakerAssistant, "", false)
	if err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if err := m.UpdateTurn(ctx, "s1", turn.Seq, "full reply", true); err != nil {
		t.Fatalf("UpdateTurn() error = %v", err)
	}

	turns, _ := m.ReadTurns(ctx, "s1")
	if !turns[0].Completed || turns[0].Content != "full reply" {
		t.Fatalf("turn = %+v, want completed with full content", turns[0])
	}

	if err := m.UpdateTurn(ctx, "s1", 99, "x", true); err == nil {
		t.Fatal("UpdateTurn() on missing seq succeeded, want not found")
	}
}

func TestMemoryAppendTurnRejectsClosedSession(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.CreateSession(ctx, "s1", "owner-a")
	m.SetSessionState(ctx, "s1", StateActive)

	if _, err := m.AppendTurn(ctx, "s1", SpeakerUser, "hi", true); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	if err := m.SetSessionState(ctx, "s1", StateClosed); err != nil {
		t.Fatalf("SetSessionState() error = %v", err)
	}
	if _, err := m.AppendTurn(ctx, "s1", SpeakerUser, "hello?", true); !core.IsType(err, core.ErrSessionClosed) {
		t.Fatalf("AppendTurn() on closed session error = %v, want session closed", err)
	}
}

func TestMemoryCompletedTurnsAreImmutable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.CreateSession(ctx, "s1", "owner-a")

	turn, err := m.AppendTurn(ctx, "s1", SpeakerAssistant, "", false)
	if err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if err := m.UpdateTurn(ctx, "s1", turn.Seq, "final text", true); err != nil {
		t.Fatalf("UpdateTurn() error = %v", err)
	}

	if err := m.UpdateTurn(ctx, "s1", turn.Seq, "rewritten", true); err == nil {
		t.Fatal("UpdateTurn() on completed turn succeeded, want error")
	}

	turns, _ := m.ReadTurns(ctx, "s1")
	if turns[0].Content != "final text" {
		t.Fatalf("Content = %q, want the original final text", turns[0].Content)
	}
}
