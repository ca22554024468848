package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/flintlabs/flint/internal/directory"
	"github.com/flintlabs/flint/internal/metrics"
)

const (
	// retryBackoffStep grows linearly per lost race so colliding executions
	// spread out without a shared coordinator.
	retryBackoffStep = 10 * time.Millisecond

	// loadRescanLimit bounds re-scans when the generation picked by a scan is
	// garbage-collected before it can be read.
	loadRescanLimit = 4
)

// FileStore persists the Directory as numbered generation files
// "<path>.<N>" beside the configured path; the path itself is a prefix,
// never a file. The highest N is the current state, absence of any
// generation is the empty Directory, and publishing N+1 is an os.Link that
// fails with EEXIST when some other execution committed first.
type FileStore struct {
	dir     string // directory holding the generation files
	base    string // file name prefix inside dir
	retries int

	log     *slog.Logger
	metrics *metrics.Metrics
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string, retries int, logger *slog.Logger, m *metrics.Metrics) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state path must not be empty")
	}
	dir, base := filepath.Split(path)
	if base == "" {
		return nil, fmt.Errorf("state path %q has no file name", path)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	if retries < 1 {
		retries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{
		dir:     dir,
		base:    base,
		retries: retries,
		log:     logger,
		metrics: m,
	}, nil
}

func (s *FileStore) Update(ctx context.Context, op func(d *directory.Directory) (mutated bool, err error)) error {
	for attempt := 1; attempt <= s.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * retryBackoffStep):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		d, gen, err := s.load()
		if err != nil {
			return err
		}

		mutated, opErr := op(d)
		if !mutated {
			return opErr
		}

		err = s.commit(d, gen+1)
		if errors.Is(err, ErrCommitConflict) {
			s.metrics.Inc(metrics.EventCommitConflict)
			s.log.Debug("commit conflict, retrying from fresh state",
				"generation", gen+1, "attempt", attempt)
			continue
		}
		if err != nil {
			return err
		}

		s.metrics.SetGauge(metrics.GaugeStateGeneration, gen+1)
		return opErr
	}

	s.metrics.Inc(metrics.EventCommitRetriesExhausted)
	return fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, s.retries)
}

// Check loads and decodes the current state without mutating it. Readiness
// probes use it so a broken state directory fails /readyz instead of the
// next join.
func (s *FileStore) Check(ctx context.Context) error {
	return s.Update(ctx, func(*directory.Directory) (bool, error) { return false, nil })
}

// load reads the current Directory. A generation that vanishes between scan
// and read was garbage-collected by a newer commit; rescan.
func (s *FileStore) load() (*directory.Directory, uint64, error) {
	var lastErr error
	for i := 0; i < loadRescanLimit; i++ {
		gen, err := s.scanLatest()
		if err != nil {
			return nil, 0, err
		}
		if gen == 0 {
			return directory.New(), 0, nil
		}

		b, err := os.ReadFile(s.genPath(gen))
		if errors.Is(err, fs.ErrNotExist) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read state: %w", err)
		}

		d, err := directory.Decode(b)
		if err != nil {
			if errors.Is(err, directory.ErrCorruptState) {
				s.metrics.Inc(metrics.EventCorruptState)
				s.log.Error("durable state is corrupt; refusing to serve until repaired",
					"path", s.genPath(gen), "err", err)
			}
			return nil, 0, fmt.Errorf("decode %s: %w", s.genPath(gen), err)
		}
		return d, gen, nil
	}
	return nil, 0, fmt.Errorf("state kept vanishing during load: %w", lastErr)
}

func (s *FileStore) commit(d *directory.Directory, next uint64) error {
	b, err := directory.Encode(d)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".flint-state-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}

	// The link is the commit point: it atomically publishes a fully written,
	// synced file, or fails because the generation already exists.
	if err := os.Link(tmpName, s.genPath(next)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrCommitConflict
		}
		return fmt.Errorf("publish state generation %d: %w", next, err)
	}

	s.syncDir()
	s.collectOldGenerations(next)
	return nil
}

func (s *FileStore) scanLatest() (uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("scan state directory: %w", err)
	}

	var latest uint64
	prefix := s.base + "."
	for _, e := range entries {
		n, ok := parseGeneration(e.Name(), prefix)
		if ok && n > latest {
			latest = n
		}
	}
	return latest, nil
}

// collectOldGenerations removes generations below the one just committed.
// Best effort: a concurrent loser's rescan handles anything it was holding.
func (s *FileStore) collectOldGenerations(current uint64) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	prefix := s.base + "."
	for _, e := range entries {
		if n, ok := parseGeneration(e.Name(), prefix); ok && n < current {
			_ = os.Remove(filepath.Join(s.dir, e.Name()))
		}
	}
}

// syncDir flushes the directory entry for the new generation. Best effort:
// the link itself is the commit point.
func (s *FileStore) syncDir() {
	f, err := os.Open(s.dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	_ = f.Close()
}

func (s *FileStore) genPath(gen uint64) string {
	return filepath.Join(s.dir, s.base+"."+strconv.FormatUint(gen, 10))
}

func parseGeneration(name, prefix string) (uint64, bool) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, prefix), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}
