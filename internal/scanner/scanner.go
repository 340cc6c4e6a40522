// Package scanner walks a source tree in parallel, emitting one
// ScannedDir per directory with entries sorted deterministically by
// name. It bounds concurrency with a worker-count semaphore the way
// this codebase's other fan-out stages do, but — unlike a single
// whole-tree hash walk — discovers and enqueues subdirectories
// dynamically as it goes, since the tree shape isn't known up front.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/oplancelot/rumba/internal/ignore"
	"github.com/oplancelot/rumba/internal/logger"
	"github.com/oplancelot/rumba/internal/rumbaerr"
)

// DefaultWorkers bounds concurrent directory reads when the caller
// doesn't specify one.
const DefaultWorkers = 8

// ScannedEntry is one child of a scanned directory.
type ScannedEntry struct {
	Name  string
	IsDir bool
	Path  string
}

// ScannedDir is one directory's worth of scan results: its path and its
// entries sorted ascending by name. Inter-directory emission order on
// the output channel is unspecified.
type ScannedDir struct {
	Path    string
	Entries []ScannedEntry
}

// Scanner walks a directory tree with bounded concurrency, optionally
// filtering paths through an ignore.Matcher.
type Scanner struct {
	workers int
	matcher ignore.Matcher
	root    string
}

// New returns a Scanner bounded to workers concurrent directory reads.
// If matcher is nil, no paths are excluded. root is used to compute the
// relative paths the matcher is evaluated against.
func New(workers int, matcher ignore.Matcher, root string) *Scanner {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Scanner{workers: workers, matcher: matcher, root: root}
}

// Scan walks root and streams a ScannedDir per directory on the
// returned channel. The channel closes once every reachable directory
// has been visited, or early if ctx is canceled. A fatal error reading
// root itself is returned directly; per-directory read errors below
// root are logged and that subtree is skipped (best-effort), not fatal.
func (s *Scanner) Scan(ctx context.Context, root string) (<-chan ScannedDir, error) {
	if _, err := os.Lstat(root); err != nil {
		return nil, rumbaerr.New(rumbaerr.ScanIO, "scanner.Scan", fmt.Errorf("stat root %q: %w", root, err))
	}

	out := make(chan ScannedDir, s.workers*2)
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	var canceled int32

	var walk func(dir string)
	walk = func(dir string) {
		defer wg.Done()

		if atomic.LoadInt32(&canceled) != 0 {
			return
		}

		sem <- struct{}{}
		rawEntries, err := os.ReadDir(dir)
		<-sem

		if err != nil {
			logger.Warn("failed to read directory, skipping subtree", "path", dir, "error", err)
			return
		}

		sort.Slice(rawEntries, func(i, j int) bool {
			return rawEntries[i].Name() < rawEntries[j].Name()
		})

		sd := ScannedDir{Path: dir, Entries: make([]ScannedEntry, 0, len(rawEntries))}

		for _, de := range rawEntries {
			childPath := filepath.Join(dir, de.Name())
			isDir := de.IsDir()

			if s.excluded(childPath, isDir) {
				logger.Debug("excluding path from scan", "path", childPath)
				continue
			}

			sd.Entries = append(sd.Entries, ScannedEntry{Name: de.Name(), IsDir: isDir, Path: childPath})

			if isDir {
				wg.Add(1)
				go walk(childPath)
			}
		}

		select {
		case out <- sd:
		case <-ctx.Done():
			atomic.StoreInt32(&canceled, 1)
		}
	}

	wg.Add(1)
	go walk(root)

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (s *Scanner) excluded(path string, isDir bool) bool {
	if s.matcher == nil {
		return false
	}
	relPath, err := filepath.Rel(s.root, path)
	if err != nil {
		relPath = filepath.Base(path)
	}
	return s.matcher.Match(relPath, isDir) ||
		s.matcher.Match(path, isDir) ||
		s.matcher.Match(filepath.Base(path), isDir)
}
