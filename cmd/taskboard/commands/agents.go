package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/taskboard/internal/inspect"
	"github.com/dyluth/taskboard/internal/printer"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List stored agents with their kind and sub-worker pool",
	Args:  cobra.NoArgs,
	RunE:  runAgents,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := inspect.ListAgents(ctx, s.store, s.cfg.Instance, printer.Stdout); err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}
	return nil
}
