package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"jobctl/core/config"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the jobctl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "jobctl %s (config version %s)\n", version, config.CurrentVersion)
		return nil
	},
}
