// Package committer applies a completed backup plan to the catalog in
// one atomic write transaction, only after the tape holding its blobs
// has finished writing and synced — the second half of the two-phase
// write/commit protocol the pipeline depends on for crash safety.
package committer

import (
	"fmt"
	"os"
	"time"

	"github.com/oplancelot/rumba/internal/catalog"
	"github.com/oplancelot/rumba/internal/logger"
	"github.com/oplancelot/rumba/internal/model"
	"github.com/oplancelot/rumba/internal/planner"
	"github.com/oplancelot/rumba/internal/rumbaerr"
)

// Committer persists a BackupPlan, together with the tape locations
// its blobs were written to, as one atomic catalog transaction.
type Committer struct {
	cat *catalog.Catalog
}

// New returns a Committer writing to cat.
func New(cat *catalog.Catalog) *Committer {
	return &Committer{cat: cat}
}

// Result summarizes what a commit persisted.
type Result struct {
	CommitHash model.Hash
	Timestamp  uint64
	BlobCount  int
	TreeCount  int
}

// Commit stages plan's blobs (at the tape locations recorded in
// locations), its full tree set, a re-stat-based index entry for every
// new file, and a single commit record chaining to the catalog's
// current latest commit, then applies all of it atomically. Callers
// must only invoke this after the tape writer's Finish has returned
// successfully — the tape is assumed durable by the time Commit runs.
func (c *Committer) Commit(plan *planner.BackupPlan, locations map[model.Hash]model.BlobLocation, author, message string, now uint64) (Result, error) {
	const op = "committer.Commit"

	txn, err := c.cat.BeginWrite()
	if err != nil {
		return Result{}, err
	}

	if err := c.stage(txn, plan, locations); err != nil {
		if derr := txn.Discard(); derr != nil {
			logger.Warn("failed to discard aborted transaction", "error", derr)
		}
		return Result{}, err
	}

	parent, hasParent, err := c.cat.LatestCommit()
	if err != nil {
		if derr := txn.Discard(); derr != nil {
			logger.Warn("failed to discard aborted transaction", "error", derr)
		}
		return Result{}, err
	}

	root, ok := plan.Trees[plan.RootPath]
	if !ok {
		if derr := txn.Discard(); derr != nil {
			logger.Warn("failed to discard aborted transaction", "error", derr)
		}
		return Result{}, rumbaerr.New(rumbaerr.Internal, op, fmt.Errorf("plan has no tree for root %q", plan.RootPath))
	}

	commit := model.Commit{
		TreeHash:  root.Hash,
		Author:    author,
		Message:   message,
		Timestamp: now,
	}
	if hasParent {
		commit.HasParent = true
		commit.ParentHash = parent.TreeHash
	}

	if err := txn.PutCommit(now, commit); err != nil {
		if derr := txn.Discard(); derr != nil {
			logger.Warn("failed to discard aborted transaction", "error", derr)
		}
		return Result{}, err
	}

	if err := txn.Commit(); err != nil {
		return Result{}, err
	}

	logger.Info("committed backup", "tree_hash", fmt.Sprintf("%x", root.Hash), "blobs", len(locations), "trees", len(plan.Trees))

	return Result{
		CommitHash: root.Hash,
		Timestamp:  now,
		BlobCount:  len(locations),
		TreeCount:  len(plan.Trees),
	}, nil
}

func (c *Committer) stage(txn *catalog.WriteTxn, plan *planner.BackupPlan, locations map[model.Hash]model.BlobLocation) error {
	const op = "committer.stage"

	for _, nf := range plan.NewFiles {
		loc, ok := locations[nf.Hash]
		if !ok {
			return rumbaerr.New(rumbaerr.Internal, op, fmt.Errorf("no tape location recorded for %q", nf.Path))
		}
		if err := txn.PutBlob(nf.Hash, loc); err != nil {
			return err
		}
	}

	for _, tree := range plan.Trees {
		if err := txn.PutTree(tree.Hash, tree.Entries); err != nil {
			return err
		}
	}

	for _, nf := range plan.NewFiles {
		info, err := os.Stat(nf.Path)
		if err != nil {
			return rumbaerr.New(rumbaerr.StatFailed, op, fmt.Errorf("re-stat %q: %w", nf.Path, err))
		}
		entry := model.IndexEntry{
			Mtime: info.ModTime().Unix(),
			Size:  uint64(info.Size()),
			Hash:  nf.Hash,
		}
		if err := txn.PutIndex(nf.Path, entry); err != nil {
			return err
		}
	}

	return nil
}

// Now returns the current Unix timestamp, the sole place in the commit
// path that reads the wall clock so pipeline tests can drive Commit
// with a fixed value instead.
func Now() uint64 {
	return uint64(time.Now().Unix())
}
