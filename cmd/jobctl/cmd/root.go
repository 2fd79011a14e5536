package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// version holds the current version of the jobctl CLI.
	version = "0.1.0"
	// configPath is an explicit config file set with --config.
	configPath string
)

// rootCmd is the base command for the jobctl CLI.
var rootCmd = &cobra.Command{
	Use:           "jobctl",
	Short:         "Single job controller",
	Long:          "jobctl runs one cancellable, progressing background job at a time and renders it on the console.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: jobctl.yaml in ., ./configs or /etc/jobctl)")
}

// Execute runs the root command with ctx and returns the process exit code.
func Execute(ctx context.Context) int {
	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
