// Package cmd provides the root command and command registration
// functionality for the rumba CLI. It handles global flags, logging
// configuration, and command initialization.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oplancelot/rumba/internal/logger"
	"github.com/oplancelot/rumba/version"
	"github.com/spf13/cobra"
)

var (
	// logLevel stores the logging level flag value.
	logLevel string

	// logFormat stores the logging format flag value (text or json).
	logFormat string

	// logOutput stores the log output destination flag value (stdout or filename).
	logOutput string

	// verbose stores the count of -v flags (0, 1, or 2).
	verbose int

	// quiet stores the quiet mode flag value.
	quiet bool

	// logFile stores the opened log file handle when logging to a file.
	logFile *os.File
)

// rootCmd is the root command for the rumba CLI application.
var rootCmd = &cobra.Command{
	Use:   "rumba",
	Short: "rumba - content-addressed incremental backups to sequential tape media",
	Long: `rumba scans a source directory, hashes its content with a Merkle tree,
skips anything already backed up, and streams whatever changed onto sequential
tape media through either a local tar file or an rustltfs-managed drive.`,
	Example: `  # Run a backup using a config file
  rumba backup --config rumba.yaml

  # Encode a password for storage in a config file
  rumba encode-password 's3cr3t'

  # Inspect a catalog's latest commit
  rumba inspect stats --db backup_meta.db`,
	Version: version.VERSION,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logLevel
		if quiet {
			level = "error"
		} else if verbose > 0 {
			if verbose >= 2 {
				level = "debug"
			} else {
				level = "info"
			}
		} else if level == "" {
			level = "warn"
		}

		var output io.Writer
		if logOutput == "" || logOutput == "stdout" {
			output = os.Stdout
		} else {
			cleanPath := filepath.Clean(logOutput)
			absPath, err := filepath.Abs(cleanPath)
			if err != nil {
				return fmt.Errorf("error resolving log file path %s: %w", logOutput, err)
			}
			if filepath.Clean(absPath) != absPath {
				return fmt.Errorf("invalid log file path: %s", logOutput)
			}

			logFile, err = os.OpenFile(absPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
			if err != nil {
				return fmt.Errorf("error opening log file %s: %w", logOutput, err)
			}
			output = logFile
		}

		logger.Init(level, logFormat, output)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			if err := logFile.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", err)
			}
			logFile = nil
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Register adds a subcommand to the root command. Subcommand packages
// call this from their own init() functions.
func Register(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// GetRootCmd returns the root command instance, used by tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// Execute runs the root command and exits 1 on failure. Cobra already
// prints error messages, so this only handles the exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	rootCmd.SetVersionTemplate(fmt.Sprintf("rumba %s (%s) %s\n", version.VERSION, version.COMMIT, version.DATE))

	rootCmd.SetHelpTemplate(`{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}
{{end}}{{if or .Runnable .HasSubCommands}}{{if .Runnable}}
Usage:
{{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set the logging level (debug, info, warn, error). Default: warn (only warnings and errors)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Set the logging format (text, json). Default: text")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stdout", "Set the log output destination (stdout or a filename). Default: stdout")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "Enable verbose output: -v for info level, -vv for debug level")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output (equivalent to --log-level=error)")
}
