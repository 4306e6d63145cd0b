package cli

import (
	"github.com/spf13/cobra"

	"github.com/bracken-sec/conmon/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("conmon %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
