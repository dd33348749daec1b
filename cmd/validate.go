// =============================================================================
// PFI Indexer - Validate Command
// =============================================================================
//
// This file defines the 'validate' command, which checks extracts without
// touching any store.
//
// COMMAND USAGE:
//   pfi validate [--file path] [--layout name]
//
// Every row is mapped and checked exactly as 'ingest' would. The run report
// is printed and the command exits non-zero if any row would be skipped.
//
// =============================================================================

package cmd

import (
	"github.com/spf13/cobra"
)

var validateOpts runOptions

// validateCmd represents the 'validate' command.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check extracts without storing anything",
	Long: `Map every row of the selected extracts and report the rows that would be
skipped along with any data quality warnings. Nothing is written to the store,
and no reports are written or extracts archived.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		opts := validateOpts
		opts.dryRun = true
		opts.strict = true
		return runIngest(cmd.Context(), cmd.OutOrStdout(), appConfig, opts)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateOpts.file, "file", "", "Validate only this extract")
	validateCmd.Flags().StringVar(&validateOpts.layout, "layout", "", "Column layout: v1 or v1-sequential (default from config)")
}
