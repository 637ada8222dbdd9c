package commands

import (
	"context"

	"github.com/dyluth/taskboard/internal/inspect"
	"github.com/dyluth/taskboard/internal/printer"
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks [agentId]",
	Short: "List an agent's tasks (default: the human executor)",
	Long: `List an agent's tasks in table order with the request that created each
one and the execution requests, dependencies and dependents still open.

The ORIGIN column is the request id to answer with 'taskboard respond'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTasks,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	id := s.cfg.Executor
	if len(args) > 0 {
		id = args[0]
	}

	a, err := s.loadAgent(ctx, id)
	if err != nil {
		return err
	}

	inspect.FormatTasks(printer.Stdout, a)
	return nil
}
