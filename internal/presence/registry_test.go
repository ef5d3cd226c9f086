package presence

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestAddRemoveSingleUser(t *testing.T) {
	r := NewRegistry()

	if first := r.Add("user-a", "conn-1"); !first {
		t.Error("expected first=true for the user's first connection")
	}
	if first := r.Add("user-a", "conn-2"); first {
		t.Error("expected first=false for the user's second connection")
	}
	if !r.Online("user-a") {
		t.Fatal("expected user-a online with 2 connections")
	}

	removed, last := r.Remove("user-a", "conn-1")
	if !removed || last {
		t.Fatalf("expected removed=true last=false, got removed=%v last=%v", removed, last)
	}
	if !r.Online("user-a") {
		t.Fatal("expected user-a still online with 1 connection")
	}

	removed, last = r.Remove("user-a", "conn-2")
	if !removed || !last {
		t.Fatalf("expected removed=true last=true, got removed=%v last=%v", removed, last)
	}
	if r.Online("user-a") {
		t.Fatal("expected user-a offline after last connection removed")
	}
	if n := r.CountUsers(); n != 0 {
		t.Fatalf("expected 0 online users, got %d", n)
	}
}

// The registry reports a user present iff at least one of their connections
// is currently open, across any connect/disconnect interleaving.
func TestOnlineIffAnyConnectionOpen(t *testing.T) {
	r := NewRegistry()
	open := make(map[string]bool)

	ops := []struct {
		add  bool
		conn string
	}{
		{true, "c1"}, {true, "c2"}, {false, "c1"}, {true, "c3"},
		{false, "c3"}, {false, "c2"}, {true, "c1"}, {false, "c1"},
		{true, "c4"}, {true, "c4"}, // duplicate add is idempotent
		{false, "c4"},
	}

	for i, op := range ops {
		if op.add {
			r.Add("user-a", op.conn)
			open[op.conn] = true
		} else {
			r.Remove("user-a", op.conn)
			delete(open, op.conn)
		}
		if got, want := r.Online("user-a"), len(open) > 0; got != want {
			t.Fatalf("op %d: online=%v, want %v (open conns: %d)", i, got, want, len(open))
		}
	}
}

func TestRemoveUnknownConnectionIsNoOp(t *testing.T) {
	r := NewRegistry()

	removed, last := r.Remove("ghost", "conn-1")
	if removed || last {
		t.Fatalf("expected no-op, got removed=%v last=%v", removed, last)
	}

	r.Add("user-a", "conn-1")
	removed, last = r.Remove("user-a", "conn-99")
	if removed || last {
		t.Fatalf("expected no-op for unknown conn, got removed=%v last=%v", removed, last)
	}
	if !r.Online("user-a") {
		t.Fatal("expected user-a still online")
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Add("user-a", "c1")
	r.Add("user-b", "c2")
	r.Add("user-b", "c3")

	snap := r.Snapshot()
	sort.Strings(snap)
	if len(snap) != 2 || snap[0] != "user-a" || snap[1] != "user-b" {
		t.Fatalf("unexpected snapshot: %v", snap)
	}

	r.Remove("user-a", "c1")
	snap = r.Snapshot()
	if len(snap) != 1 || snap[0] != "user-b" {
		t.Fatalf("unexpected snapshot after remove: %v", snap)
	}
}

func TestConnections(t *testing.T) {
	r := NewRegistry()
	r.Add("user-a", "c1")
	r.Add("user-a", "c2")

	conns := r.Connections("user-a")
	sort.Strings(conns)
	if len(conns) != 2 || conns[0] != "c1" || conns[1] != "c2" {
		t.Fatalf("unexpected connections: %v", conns)
	}

	if conns := r.Connections("nobody"); conns != nil {
		t.Fatalf("expected nil for unknown user, got %v", conns)
	}
}

func TestConcurrentChurn(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", worker%4)
			for j := 0; j < 200; j++ {
				conn := fmt.Sprintf("w%d-c%d", worker, j)
				r.Add(user, conn)
				r.Snapshot()
				r.Remove(user, conn)
			}
		}(i)
	}
	wg.Wait()

	if n := r.CountUsers(); n != 0 {
		t.Fatalf("expected empty registry after churn, got %d users online", n)
	}
}
