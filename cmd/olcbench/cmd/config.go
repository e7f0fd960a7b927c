/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ssargent/olctree/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage olcbench tuning configuration",
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default tuning file to edit and pass back via --config",
	Long: `Write the default tuning configuration as YAML so an operator can edit
the staging-buffer and thread-pool knobs and pass the file back to a
benchmark run via --config.

Examples:
	  olcbench config init
	  olcbench config init --output ./tuning/olcbench.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		force, _ := cmd.Flags().GetBool("force")

		if _, err := os.Stat(output); err == nil && !force {
			cmd.Printf("Config file already exists at %s. Use --force to overwrite.\n", output)
			return nil
		}

		if err := config.SaveConfig(config.DefaultConfig(), output); err != nil {
			return err
		}
		cmd.Printf("Wrote default config to %s\n", output)
		return nil
	},
}

func init() {
	configInitCmd.Flags().String("output", "olcbench.yaml", "Path to write the config file to")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
