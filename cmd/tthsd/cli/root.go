package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set via ldflags during build.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "tthsd",
	Short:   "A concurrent HTTP range downloader with a terminal UI",
	Long:    `tthsd drives one or more multi-connection HTTP downloads, resumable across restarts via an on-disk manifest.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.SetVersionTemplate(fmt.Sprintf("tthsd %s\n", Version))
}
