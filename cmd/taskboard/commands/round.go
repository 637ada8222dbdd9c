package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/taskboard/internal/printer"
	"github.com/dyluth/taskboard/internal/runner"
	"github.com/spf13/cobra"
)

var roundCmd = &cobra.Command{
	Use:   "round",
	Short: "Give every agent with mail one turn",
	Long: `Run a single round: every agent with active messages loads its state,
processes its inbox, dispatches ready tasks and is saved again.

A failing turn is reported and does not stop the other agents.`,
	Args: cobra.NoArgs,
	RunE: runRound,
}

func init() {
	rootCmd.AddCommand(roundCmd)
}

func runRound(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.newRunner()
	if err != nil {
		return err
	}

	report, err := r.RunRound(ctx)
	if err != nil {
		return printer.Error("round failed", err.Error(), nil)
	}

	return printReport(report)
}

func printReport(report *runner.RoundReport) error {
	if report.Idle() {
		printer.Info("No agent has mail; the board is idle\n")
		return nil
	}

	for _, turn := range report.Turns {
		if turn.Failed() {
			printer.Warning("%s: %v\n", turn.AgentID, turn.Err)
			continue
		}
		printer.Success("%s\n", turn.AgentID)
	}

	failed := len(report.FailedTurns())
	if failed > 0 {
		return printer.Error(
			fmt.Sprintf("%d of %d turns failed", failed, len(report.Turns)),
			"The other agents' turns completed and were saved.",
			[]string{"Inspect the failing agent's messages:\n  taskboard board --agent <id>"},
		)
	}
	return nil
}
