// Package backup provides the "backup" command: load a config file,
// open the catalog it names, and run one scan-plan-write-commit cycle
// against the configured source.
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/oplancelot/rumba/cmd"
	"github.com/oplancelot/rumba/internal/catalog"
	"github.com/oplancelot/rumba/internal/config"
	"github.com/oplancelot/rumba/internal/logger"
	"github.com/oplancelot/rumba/internal/pipeline"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run an incremental backup of the configured source to tape",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}

		log := logger.With("command", "backup", "config", configPath)

		cfg, err := config.Load(configPath)
		if err != nil {
			log.Error("failed to load config", "error", err)
			return err
		}

		cat, err := catalog.Open(cfg.Target.DBPath)
		if err != nil {
			log.Error("failed to open catalog", "error", err)
			return err
		}
		defer func() {
			if err := cat.Close(); err != nil {
				log.Warn("failed to close catalog", "error", err)
			}
		}()

		log.Info("starting backup", "source", cfg.Source.Path, "output_mode", cfg.Target.OutputMode)
		start := time.Now()

		summary, err := pipeline.Run(context.Background(), cfg, cat)
		if err != nil {
			log.Error("backup failed", "error", err, "duration", time.Since(start))
			return err
		}

		duration := time.Since(start)
		if !summary.Committed {
			log.Info("backup finished, nothing new to back up", "duration", duration)
			fmt.Fprintf(cmd.OutOrStdout(), "nothing to back up (%d directories scanned)\n", summary.FilesScanned)
			return nil
		}

		log.Info("backup finished", "duration", duration, "new_blobs", summary.NewBlobs, "commit", summary.CommitHash)
		fmt.Fprintf(cmd.OutOrStdout(), "committed %s: %d new blobs, %d bytes, %d directories\n",
			summary.CommitHash, summary.NewBlobs, summary.TotalBytes, summary.FilesScanned)
		return nil
	},
}

func init() {
	backupCmd.Flags().StringP("config", "c", "rumba.yaml", "Path to the rumba YAML config file")
	cmd.Register(backupCmd)
}
