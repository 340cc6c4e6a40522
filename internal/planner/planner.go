// Package planner drives the bottom-up Merkle build: it consumes the
// scanner's per-directory results, consults the differ and hasher for
// each file, and emits a BackupPlan plus the full set of computed
// trees, processing directories in an order that guarantees every
// child directory's tree hash is known before its parent needs it.
package planner

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/oplancelot/rumba/internal/differ"
	"github.com/oplancelot/rumba/internal/hasher"
	"github.com/oplancelot/rumba/internal/logger"
	"github.com/oplancelot/rumba/internal/model"
	"github.com/oplancelot/rumba/internal/rumbaerr"
	"github.com/oplancelot/rumba/internal/scanner"
)

const (
	dirMode  uint32 = 0o040755
	fileMode uint32 = 0o100644
)

// NewFile is one (path, hash) pair the planner decided needs to be
// written to tape.
type NewFile struct {
	Path string
	Hash model.Hash
}

// BackupPlan is the planner's output: the files that need writing to
// tape, the total bytes they represent, and every directory's computed
// tree (keyed by directory path) so the committer can persist the full
// tree set alongside the blobs.
type BackupPlan struct {
	NewFiles  []NewFile
	TotalSize uint64
	Trees     map[string]DirTree
	RootPath  string
}

// DirTree is one directory's computed identity: its sorted entries and
// the tree hash they produce.
type DirTree struct {
	Entries []model.TreeEntry
	Hash    model.Hash
}

// Planner builds a BackupPlan from a scanner's output.
type Planner struct {
	differ      *differ.Differ
	hashWorkers int
}

// New returns a Planner that consults d for the fast-path/dedup checks
// and fans file hashing out across hashWorkers goroutines per
// directory (hashWorkers <= 1 disables the fan-out).
func New(d *differ.Differ, hashWorkers int) *Planner {
	if hashWorkers < 1 {
		hashWorkers = 1
	}
	return &Planner{differ: d, hashWorkers: hashWorkers}
}

// Build accumulates every ScannedDir from dirs, then processes
// directories ordered by descending path length — a topological proxy
// that guarantees each directory is processed only after all of its
// children, since a child path is always longer than its parent's.
func (p *Planner) Build(root string, dirs <-chan scanner.ScannedDir) (*BackupPlan, error) {
	dirMap := make(map[string]scanner.ScannedDir)
	for sd := range dirs {
		dirMap[sd.Path] = sd
	}

	paths := make([]string, 0, len(dirMap))
	for path := range dirMap {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		return len(paths[i]) > len(paths[j])
	})

	plan := &BackupPlan{
		Trees:    make(map[string]DirTree, len(dirMap)),
		RootPath: root,
	}

	// claimed tracks hashes already queued into plan.NewFiles during
	// this Build call. The catalog only learns about a new blob at
	// commit time, so two files with identical content hashed in the
	// same run both read the catalog as "not found"; without this,
	// both would be queued and tape would get a redundant copy.
	claimed := newHashClaimSet()

	for _, path := range paths {
		sd := dirMap[path]
		entries, err := p.buildDirEntries(sd, plan, claimed)
		if err != nil {
			return nil, err
		}

		model.SortTreeEntries(entries)
		treeHash := hasher.HashTree(entries)
		plan.Trees[path] = DirTree{Entries: entries, Hash: treeHash}
	}

	return plan, nil
}

// fileResult carries a file entry's computed state back from the hash
// fan-out, indexed by its position in the directory's entry list so
// results can be written back in original order before the defensive
// name-sort — preserving NewFiles append order within a directory.
type fileResult struct {
	entry   model.TreeEntry
	newFile *NewFile
	size    uint64
	err     error
}

// hashClaimSet tracks, for a single Build call, which content hashes
// have already been claimed for a tape write. It is scoped to one
// Build invocation rather than to the Planner itself, since a Planner
// is reused across sequential runs and a hash claimed in an earlier
// run must not suppress a legitimately new write in a later one.
type hashClaimSet struct {
	mu      sync.Mutex
	claimed map[model.Hash]bool
}

func newHashClaimSet() *hashClaimSet {
	return &hashClaimSet{claimed: make(map[model.Hash]bool)}
}

// claim reports whether hash has not yet been claimed in this run and,
// if so, marks it claimed. Only the first caller for a given hash gets
// true; concurrent callers racing on the same hash are serialized by
// mu so exactly one wins.
func (s *hashClaimSet) claim(hash model.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[hash] {
		return false
	}
	s.claimed[hash] = true
	return true
}

func (p *Planner) buildDirEntries(sd scanner.ScannedDir, plan *BackupPlan, claimed *hashClaimSet) ([]model.TreeEntry, error) {
	entries := make([]model.TreeEntry, len(sd.Entries))
	results := make([]fileResult, len(sd.Entries))

	fileIdx := make([]int, 0, len(sd.Entries))
	for i, e := range sd.Entries {
		if e.IsDir {
			if tree, ok := plan.Trees[e.Path]; ok {
				entries[i] = model.TreeEntry{Name: e.Name, Mode: dirMode, Hash: tree.Hash}
			} else {
				logger.Debug("subdirectory tree not found, treating as empty", "path", e.Path)
				entries[i] = model.TreeEntry{Name: e.Name, Mode: dirMode, Hash: model.Hash{}}
			}
			continue
		}
		fileIdx = append(fileIdx, i)
	}

	if len(fileIdx) > 0 {
		p.hashFiles(sd, fileIdx, results, claimed)
	}

	for _, i := range fileIdx {
		r := results[i]
		if r.err != nil {
			logger.Warn("failed to process file, omitting from tree", "path", sd.Entries[i].Path, "error", r.err)
			continue
		}
		entries[i] = r.entry
		if r.newFile != nil {
			plan.NewFiles = append(plan.NewFiles, *r.newFile)
			plan.TotalSize += r.size
		}
	}

	// Entries created for skipped (errored) slots are zero-value and
	// must not appear in the final tree; compact them out.
	out := entries[:0]
	skipped := make(map[int]bool, len(fileIdx))
	for _, i := range fileIdx {
		if results[i].err != nil {
			skipped[i] = true
		}
	}
	for i, e := range entries {
		if skipped[i] {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (p *Planner) hashFiles(sd scanner.ScannedDir, fileIdx []int, results []fileResult, claimed *hashClaimSet) {
	sem := make(chan struct{}, p.hashWorkers)
	var wg sync.WaitGroup

	for _, i := range fileIdx {
		i := i
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = p.processFile(sd.Entries[i], claimed)
		}()
	}
	wg.Wait()
}

func (p *Planner) processFile(entry scanner.ScannedEntry, claimed *hashClaimSet) fileResult {
	info, err := os.Stat(entry.Path)
	if err != nil {
		return fileResult{err: rumbaerr.New(rumbaerr.StatFailed, "planner.processFile", fmt.Errorf("stat %q: %w", entry.Path, err))}
	}

	mtime := info.ModTime().Unix()
	size := uint64(info.Size())

	contentHash, hit, err := p.differ.CheckIndex(entry.Path, mtime, size)
	if err != nil {
		return fileResult{err: err}
	}
	if !hit {
		contentHash, err = hasher.HashFile(entry.Path)
		if err != nil {
			return fileResult{err: err}
		}
	}

	isNew, err := p.differ.IsNewBlob(contentHash)
	if err != nil {
		return fileResult{err: err}
	}

	var nf *NewFile
	if isNew && claimed.claim(contentHash) {
		nf = &NewFile{Path: entry.Path, Hash: contentHash}
	}

	return fileResult{
		entry:   model.TreeEntry{Name: entry.Name, Mode: fileMode, Hash: contentHash},
		newFile: nf,
		size:    size,
	}
}
