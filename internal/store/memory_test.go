package store

import (
	"context"
	"errors"
	"testing"

	"github.com/flintlabs/flint/internal/directory"
	"github.com/flintlabs/flint/internal/protocol"
)

func TestMemoryStore_CommitOnlyWhenMutated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := protocol.NewPeerID()

	err := s.Update(ctx, func(d *directory.Directory) (bool, error) {
		d.Join("lobby", id, 10)
		return true, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := s.Snapshot().Peers[id]; !ok {
		t.Fatalf("mutation not visible in snapshot")
	}

	// An op that mutates its copy but reports mutated=false must leak nothing.
	stray := protocol.NewPeerID()
	err = s.Update(ctx, func(d *directory.Directory) (bool, error) {
		d.Join("lobby", stray, 20)
		return false, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := s.Snapshot().Peers[stray]; ok {
		t.Fatalf("non-mutating op leaked state")
	}
}

func TestMemoryStore_MutatedWithErrorCommits(t *testing.T) {
	s := NewMemoryStore()
	id := protocol.NewPeerID()
	opErr := errors.New("failed after partial work")

	err := s.Update(context.Background(), func(d *directory.Directory) (bool, error) {
		d.Join("lobby", id, 10)
		return true, opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("err=%v, want op error", err)
	}
	if _, ok := s.Snapshot().Peers[id]; !ok {
		t.Fatalf("mutation from failed op was dropped")
	}
}

func TestMemoryStore_SnapshotIsDetached(t *testing.T) {
	s := NewMemoryStore()
	id := protocol.NewPeerID()
	if err := s.Update(context.Background(), func(d *directory.Directory) (bool, error) {
		d.Join("lobby", id, 10)
		d.Enqueue(id, protocol.NewPeer{Peer: id})
		return true, nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	snap := s.Snapshot()
	snap.Peers[id].Queue = nil
	delete(snap.Rooms, "lobby")

	after := s.Snapshot()
	if len(after.Rooms["lobby"]) != 1 || len(after.Peers[id].Queue) != 1 {
		t.Fatalf("mutating a snapshot changed the store")
	}
}

func TestMemoryStore_ContextCanceled(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Update(ctx, func(d *directory.Directory) (bool, error) {
		t.Fatalf("op must not run after cancellation")
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
