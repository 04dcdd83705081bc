package bulletin

import (
	"testing"
	"time"
)

func TestUpdateAndGet(t *testing.T) {
	b := New(nil)
	b.Update(Entry{Agent: "scout", Action: "gather_wood", X: 1, Y: 64, Z: 2})
	e, ok := b.Get("scout")
	if !ok {
		t.Fatal("expected entry")
	}
	if e.Action != "gather_wood" {
		t.Fatalf("Action = %q", e.Action)
	}
	if e.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt should be set")
	}
}

func TestPeersOf_ExcludesSelf(t *testing.T) {
	b := New(nil)
	b.Update(Entry{Agent: "scout", Action: "idle"})
	b.Update(Entry{Agent: "miner", Action: "mine_block"})

	peers := b.PeersOf("scout")
	if len(peers) != 1 || peers[0].Agent != "miner" {
		t.Fatalf("peers = %+v", peers)
	}
}

func TestStale(t *testing.T) {
	e := Entry{UpdatedAt: time.Now().Add(-31 * time.Second)}
	if !e.Stale(time.Now()) {
		t.Fatal("expected stale")
	}
	e2 := Entry{UpdatedAt: time.Now()}
	if e2.Stale(time.Now()) {
		t.Fatal("expected fresh")
	}
}

func TestPrune(t *testing.T) {
	b := New(nil)
	b.mu.Lock()
	b.entries["old"] = Entry{Agent: "old", UpdatedAt: time.Now().Add(-time.Hour)}
	b.entries["fresh"] = Entry{Agent: "fresh", UpdatedAt: time.Now()}
	b.mu.Unlock()

	n := b.Prune(time.Minute)
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if _, ok := b.Get("old"); ok {
		t.Fatal("old entry should be gone")
	}
	if _, ok := b.Get("fresh"); !ok {
		t.Fatal("fresh entry should remain")
	}
}
