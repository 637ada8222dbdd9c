package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/taskboard/internal/agent"
	"github.com/dyluth/taskboard/internal/printer"
	"github.com/dyluth/taskboard/internal/watch"
	"github.com/dyluth/taskboard/pkg/board"
	"github.com/spf13/cobra"
)

var (
	requestTo      string
	requestFrom    string
	requestWait    bool
	requestTimeout time.Duration
)

var requestCmd = &cobra.Command{
	Use:   "request <task>",
	Short: "Post a new task for an agent to perform",
	Long: `Post an execution request for a task. By default the configured requester
endpoint asks the configured source worker.

Examples:
  # Ask the source worker to build a report
  taskboard request build-report

  # Ask a specific agent
  taskboard request migrate --to db

  # Block until the task has been answered all the way back
  taskboard request build-report --wait --timeout 10m`,
	Args: cobra.ExactArgs(1),
	RunE: runRequest,
}

func init() {
	requestCmd.Flags().StringVar(&requestTo, "to", "", "Recipient agent (default: configured source)")
	requestCmd.Flags().StringVar(&requestFrom, "from", "", "Requesting agent (default: configured requester)")
	requestCmd.Flags().BoolVar(&requestWait, "wait", false, "Wait until the request is resolved")
	requestCmd.Flags().DurationVar(&requestTimeout, "timeout", 5*time.Minute, "Maximum time to wait with --wait")
	rootCmd.AddCommand(requestCmd)
}

func runRequest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	task := args[0]

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	to := requestTo
	if to == "" {
		to = s.cfg.Source
	}
	from := requestFrom
	if from == "" {
		from = s.cfg.Requester
	}

	recipient, err := s.loadAgent(ctx, to)
	if err != nil {
		return err
	}
	requester, err := s.loadAgent(ctx, from)
	if err != nil {
		return err
	}
	if requester.Kind != agent.KindEndpoint {
		return printer.Error(
			"requester must be an endpoint",
			fmt.Sprintf("%s is a %s agent; only endpoint agents can post new work.", requester.ID, requester.Kind),
			[]string{"Omit --from to post as the configured requester", "List stored agents:\n  taskboard agents"},
		)
	}
	to, from = recipient.ID, requester.ID

	id, err := requester.RequestTask(ctx, s.board, to, task, board.SubtypeExecution)
	if err != nil {
		return fmt.Errorf("failed to post request: %w", err)
	}

	printer.Success("Posted request %d: %s asks %s to %q\n", id, from, to, task)
	if !requestWait {
		return nil
	}

	printer.Step("Waiting up to %s for request %d to be resolved...\n", requestTimeout, id)
	if _, err := watch.PollForResolution(ctx, s.board, id, requestTimeout); err != nil {
		return printer.Error(
			fmt.Sprintf("request %d not resolved", id),
			err.Error(),
			[]string{"Make sure a runner is serving this instance:\n  taskboard serve", "Check progress:\n  taskboard board --agent=" + from},
		)
	}
	printer.Success("Request %d resolved\n", id)
	return nil
}
