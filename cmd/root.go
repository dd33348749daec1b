// =============================================================================
// PFI Indexer - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. All other commands
// are attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (pfi)
//   ├── ingestCmd   (pfi ingest)
//   ├── validateCmd (pfi validate)
//   ├── serveCmd    (pfi serve)
//   └── versionCmd  (pfi version)
//
// CONFIGURATION:
//   Before any subcommand runs, the root command:
//   1. Loads the main configuration (--config, then PFI_* variables)
//   2. Sets up the structured logger
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/pfi-indexer/internal/config"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// verbose enables debug logging when set to true.
var verbose bool

// appConfig is the loaded configuration, set before any subcommand runs.
var appConfig *config.MainConfig

// logger is the application logger, set before any subcommand runs.
var logger = slog.New(slog.DiscardHandler)

// logOutput is closed when the command finishes, if logging to a file.
var logOutput io.Closer

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pfi",
	Short: "PFI Indexer - Load the PFI project register into a document store",
	Long: `PFI Indexer reads the published register of Private Finance Initiative
projects (one positional row per project, 101 columns) and turns each row into
a nested project document: typed scalar fields, 66 yearly unitary charge
payments and up to six equity holders.

Documents are upserted by hmt_id into a SQLite database, Redis, an in-memory
store or a search engine bulk file, and can be served back over a read-only
JSON API.

Example Usage:
  pfi ingest                           # Ingest every extract in the input directory
  pfi ingest --file register.csv       # Ingest one extract
  pfi validate --file register.xlsx    # Check an extract without storing it
  pfi serve                            # Serve stored projects over HTTP`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		allowMissing := !cmd.Flags().Changed("config")
		cfg, err := config.LoadMainConfig(cfgFile, allowMissing)
		if err != nil {
			return fmt.Errorf("failed to load main config: %w", err)
		}
		appConfig = cfg

		l, closer, err := newLogger(cfg, verbose, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		logger = l
		logOutput = closer
		return nil
	},

	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logOutput != nil {
			err := logOutput.Close()
			logOutput = nil
			return err
		}
		return nil
	},

	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}

// =============================================================================
// LOGGING
// =============================================================================

// newLogger builds the text logger described by the configuration.
//
// RETURNS:
//   - The logger.
//   - The log file to close when done, or nil when logging to stderr.
//   - An error if the log file cannot be opened.
func newLogger(cfg *config.MainConfig, verbose bool, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = stderr
	var closer io.Closer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closer = f
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
