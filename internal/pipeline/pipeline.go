// Package pipeline wires the scanner, planner, tape writer, and
// committer into the two-phase backup run a single invocation performs:
// scan and plan in memory, write every new blob to tape and let it
// sync fully, and only then commit catalog metadata — so a crash
// mid-write never leaves the catalog pointing at a blob that isn't
// really on the tape.
package pipeline

import (
	"context"
	"fmt"

	"github.com/oplancelot/rumba/internal/catalog"
	"github.com/oplancelot/rumba/internal/committer"
	"github.com/oplancelot/rumba/internal/config"
	"github.com/oplancelot/rumba/internal/differ"
	"github.com/oplancelot/rumba/internal/ignore"
	"github.com/oplancelot/rumba/internal/logger"
	"github.com/oplancelot/rumba/internal/planner"
	"github.com/oplancelot/rumba/internal/rumbaerr"
	"github.com/oplancelot/rumba/internal/scanner"
	"github.com/oplancelot/rumba/internal/tape"
)

// Summary reports what a Run did.
type Summary struct {
	FilesScanned int
	NewBlobs     int
	TotalBytes   uint64
	Committed    bool
	CommitHash   string
}

// Run executes one complete backup: scan cfg.Source.Path, plan the
// delta against cat, write any new blobs to the configured tape sink,
// and commit. If the plan has no new files, Run returns without
// touching the tape or the catalog.
func Run(ctx context.Context, cfg *config.Config, cat *catalog.Catalog) (Summary, error) {
	const op = "pipeline.Run"

	if cfg.Target.OutputMode != "rustltfs" && cfg.Target.OutputMode != "tar" {
		return Summary{}, rumbaerr.New(rumbaerr.ConfigInvalid, op, fmt.Errorf("unknown output mode %q", cfg.Target.OutputMode))
	}

	matcher, err := ignore.NewMatcher(cfg.Backup.Exclude, cfg.Source.Path, true, cfg.Backup.IgnoreFile)
	if err != nil {
		return Summary{}, rumbaerr.New(rumbaerr.ConfigInvalid, op, fmt.Errorf("build ignore matcher: %w", err))
	}

	s := scanner.New(cfg.Backup.ParallelThreads, matcher, cfg.Source.Path)
	dirs, err := s.Scan(ctx, cfg.Source.Path)
	if err != nil {
		return Summary{}, err
	}

	p := planner.New(differ.New(cat), cfg.Backup.ParallelThreads)
	plan, err := p.Build(cfg.Source.Path, dirs)
	if err != nil {
		return Summary{}, err
	}

	logger.Info("backup plan built", "new_files", len(plan.NewFiles), "total_bytes", plan.TotalSize, "trees", len(plan.Trees))

	if len(plan.NewFiles) == 0 {
		logger.Info("nothing to back up, catalog unchanged")
		return Summary{FilesScanned: len(plan.Trees)}, nil
	}

	w, tapeID, err := openTapeWriter(cfg)
	if err != nil {
		return Summary{}, err
	}

	locations, err := w.WritePlan(plan)
	if err != nil {
		return Summary{}, err
	}
	if err := w.Finish(); err != nil {
		return Summary{}, err
	}

	logger.Info("tape write finished, committing catalog", "tape_id", tapeID, "blobs", len(locations))

	c := committer.New(cat)
	result, err := c.Commit(plan, locations, cfg.Backup.Author, cfg.Backup.Message, committer.Now())
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		FilesScanned: len(plan.Trees),
		NewBlobs:     result.BlobCount,
		TotalBytes:   plan.TotalSize,
		Committed:    true,
		CommitHash:   fmt.Sprintf("%x", result.CommitHash),
	}, nil
}

func openTapeWriter(cfg *config.Config) (*tape.Writer, uint64, error) {
	const op = "pipeline.openTapeWriter"
	const tapeID = 1 // single-tape target; spec leaves multi-volume spanning out of scope

	switch cfg.Target.OutputMode {
	case "rustltfs":
		w, err := tape.NewRustLTFSWriter(cfg.Target.RustLTFSPath, cfg.Target.TapePath, tapeID, cfg.Backup.CompressionLevel)
		if err != nil {
			return nil, 0, err
		}
		return w, tapeID, nil
	case "tar":
		w, err := tape.NewTarFileWriter(cfg.Target.TapePath, tapeID, cfg.Backup.CompressionLevel)
		if err != nil {
			return nil, 0, err
		}
		return w, tapeID, nil
	default:
		return nil, 0, rumbaerr.New(rumbaerr.ConfigInvalid, op, fmt.Errorf("unknown output mode %q", cfg.Target.OutputMode))
	}
}
