package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"jobctl/core/config"
	apperrors "jobctl/core/errors"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configGenerateCmd)

	configGenerateCmd.Flags().StringP("output", "o", "jobctl.yaml", "File to write the generated config to")
	configGenerateCmd.Flags().Bool("force", false, "Overwrite an existing file")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.LoadConfig(configPath); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
		return nil
	},
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a config file holding every default",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		force, _ := cmd.Flags().GetBool("force")

		if !force {
			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("%s: %w (use --force to overwrite)", output, apperrors.ErrAlreadyExists)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("check %s: %w", output, err)
			}
		}

		if err := config.SaveGeneratedConfig(config.GenerateDefaultConfig(), output); err != nil {
			return fmt.Errorf("failed to save generated config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s.\n", output)
		return nil
	},
}
