package commands

import (
	"fmt"

	"github.com/dyluth/taskboard/internal/printer"
	"github.com/dyluth/taskboard/internal/scaffold"
	"github.com/spf13/cobra"
)

var scaffoldForce bool

var scaffoldCmd = &cobra.Command{
	Use:   "scaffold",
	Short: "Write a starter taskboard.yml",
	Long: `Write a starter taskboard.yml at the --config path.

The starter file spells out the built-in defaults: one endpoint (cli), one
source worker (source) and a human executor (human). An existing file is
only replaced with --force.`,
	Args: cobra.NoArgs,
	RunE: runScaffold,
}

func init() {
	scaffoldCmd.Flags().BoolVarP(&scaffoldForce, "force", "f", false, "Overwrite an existing configuration")
	rootCmd.AddCommand(scaffoldCmd)
}

func runScaffold(cmd *cobra.Command, args []string) error {
	if !scaffoldForce {
		if err := scaffold.CheckExisting(configPath); err != nil {
			return printer.Error(
				"configuration already exists",
				fmt.Sprintf("Found existing %s", configPath),
				[]string{"Use 'taskboard scaffold --force' to overwrite it", "Or choose another path with --config"},
			)
		}
	}

	if err := scaffold.Initialize(configPath, scaffoldForce); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	printer.Success("Wrote %s\n", configPath)
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Add agents to %s\n", configPath)
	printer.Info("  2. Run 'taskboard init' to create them\n")
	printer.Info("  3. Run 'taskboard serve' to start processing rounds\n")
	return nil
}
