package store

import (
	"context"
	"errors"

	"github.com/flintlabs/flint/internal/directory"
)

var (
	// ErrCommitConflict means another execution committed between this
	// operation's load and its publish. It is recovered internally by
	// retrying and never reaches a client.
	ErrCommitConflict = errors.New("commit conflict")
	// ErrRetriesExhausted is the transient failure surfaced when an operation
	// keeps losing commit races.
	ErrRetriesExhausted = errors.New("commit retries exhausted")
)

// Store runs one operation against the durable Directory.
//
// Update loads the latest committed Directory, applies op, and commits the
// result iff op reported mutated, such that the whole load-apply-commit
// sequence is linearizable with every other caller of the same state,
// including callers in other processes. op may be invoked once per conflict
// retry, each time with a freshly loaded Directory: it must be safe to
// re-run and must recompute any captured response on every invocation.
//
// When op returns mutated together with an error, the mutation is committed
// and the error is still returned to the caller. A non-mutating outcome
// commits nothing.
type Store interface {
	Update(ctx context.Context, op func(d *directory.Directory) (mutated bool, err error)) error
}
