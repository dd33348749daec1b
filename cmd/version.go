package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/pfi-indexer/internal/mapper"
)

// Version and BuildDate are stamped by the release build:
//
//	go build -ldflags "-X github.com/ginjaninja78/pfi-indexer/cmd.Version=1.2.0 \
//	  -X github.com/ginjaninja78/pfi-indexer/cmd.BuildDate=2024-01-15"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version and supported register layouts",

	// Skips config loading, so the version prints even with a broken config.
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},

	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pfi %s (built %s, %s)\n", Version, BuildDate, runtime.Version())
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					fmt.Fprintf(out, "commit: %s\n", s.Value)
				}
			}
		}
		fmt.Fprintf(out, "layouts: %s, %s\n", mapper.LayoutV1, mapper.LayoutV1Sequential)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
