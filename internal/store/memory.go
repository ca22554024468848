package store

import (
	"context"
	"sync"

	"github.com/flintlabs/flint/internal/directory"
)

// MemoryStore keeps the Directory in process memory. It exists for tests and
// for single-instance experiments; durability and cross-process exclusion
// come only from FileStore.
type MemoryStore struct {
	mu  sync.Mutex
	dir *directory.Directory
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{dir: directory.New()}
}

func (s *MemoryStore) Update(ctx context.Context, op func(d *directory.Directory) (mutated bool, err error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// op gets a clone so a failed operation cannot leak partial mutations
	// into the committed state, mirroring FileStore's load-a-copy shape.
	work := s.dir.Clone()
	mutated, err := op(work)
	if mutated {
		s.dir = work
	}
	return err
}

// Snapshot returns a deep copy of the committed Directory for assertions.
func (s *MemoryStore) Snapshot() *directory.Directory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir.Clone()
}

// Seed replaces the committed Directory, for arranging test fixtures.
func (s *MemoryStore) Seed(d *directory.Directory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = d.Clone()
}
