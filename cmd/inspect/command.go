// Package inspect provides read-only "inspect" subcommands for looking
// at a catalog's contents without running a backup: summary stats,
// the blobs table, and the index table.
package inspect

import (
	"fmt"

	"github.com/oplancelot/rumba/cmd"
	"github.com/oplancelot/rumba/internal/catalog"
	"github.com/spf13/cobra"
)

var dbPath string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect a rumba catalog's contents",
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the catalog's latest commit and table sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Open(dbPath)
		if err != nil {
			return err
		}
		defer cat.Close()

		blobs, err := cat.ListBlobs()
		if err != nil {
			return err
		}
		index, err := cat.ListIndex()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "blobs: %d\n", len(blobs))
		fmt.Fprintf(out, "index entries: %d\n", len(index))

		commit, ok, err := cat.LatestCommit()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "latest commit: none")
			return nil
		}
		fmt.Fprintf(out, "latest commit: tree=%x author=%q timestamp=%d\n", commit.TreeHash, commit.Author, commit.Timestamp)
		return nil
	},
}

var listBlobsCmd = &cobra.Command{
	Use:   "list-blobs",
	Short: "List every blob's tape location",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Open(dbPath)
		if err != nil {
			return err
		}
		defer cat.Close()

		entries, err := cat.ListBlobs()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range entries {
			fmt.Fprintf(out, "%x tape=%d offset=%d\n", e.Hash, e.Location.TapeID, e.Location.Offset)
		}
		return nil
	},
}

var listIndexCmd = &cobra.Command{
	Use:   "list-index",
	Short: "List every path's last-recorded stat and hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Open(dbPath)
		if err != nil {
			return err
		}
		defer cat.Close()

		records, err := cat.ListIndex()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range records {
			fmt.Fprintf(out, "%s mtime=%d size=%d hash=%x\n", r.Path, r.Entry.Mtime, r.Entry.Size, r.Entry.Hash)
		}
		return nil
	},
}

func init() {
	inspectCmd.PersistentFlags().StringVar(&dbPath, "db", "backup_meta.db", "Path to the catalog database")
	inspectCmd.AddCommand(statsCmd, listBlobsCmd, listIndexCmd)
	cmd.Register(inspectCmd)
}
