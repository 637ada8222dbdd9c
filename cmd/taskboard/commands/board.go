package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dyluth/taskboard/internal/inspect"
	"github.com/dyluth/taskboard/internal/printer"
	"github.com/dyluth/taskboard/internal/timespec"
	"github.com/dyluth/taskboard/pkg/board"
	"github.com/spf13/cobra"
)

var (
	boardOutputFormat string
	boardSince        string
	boardUntil        string
	boardAgent        string
)

var boardCmd = &cobra.Command{
	Use:   "board [messageId]",
	Short: "Inspect messages on the board",
	Long: `Inspect the board in list or get mode.

List Mode (no messageId):
  Displays active messages in post order as a table or JSONL stream.

Get Mode (with messageId):
  Displays one message as pretty-printed JSON, whether active or archived.

Filters (list mode only):
  --agent  - Messages sent or received by this agent
  --since  - Messages posted after this time (duration or RFC3339)
  --until  - Messages posted before this time (duration or RFC3339)

Examples:
  taskboard board
  taskboard board --agent=human --since=1h
  taskboard board -o jsonl | jq 'select(.kind=="response")'
  taskboard board 12`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBoard,
}

func init() {
	boardCmd.Flags().StringVarP(&boardOutputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")
	boardCmd.Flags().StringVar(&boardSince, "since", "", "Show messages after time (duration or RFC3339)")
	boardCmd.Flags().StringVar(&boardUntil, "until", "", "Show messages before time (duration or RFC3339)")
	boardCmd.Flags().StringVar(&boardAgent, "agent", "", "Filter by sender or recipient")
	rootCmd.AddCommand(boardCmd)
}

func runBoard(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) > 0 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return printer.Error("invalid message id", fmt.Sprintf("%q is not a message id", args[0]), nil)
		}
		return runBoardGet(ctx, cmd, id)
	}

	format := inspect.OutputFormat(boardOutputFormat)
	if err := format.Validate(); err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", boardOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	window, err := timespec.ParseRange(boardSince, boardUntil)
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), []string{"Use a duration like '1h30m' or RFC3339 like '2026-10-14T09:00:00Z'"})
	}

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	agentID, err := s.resolveFilterAgent(ctx, boardAgent)
	if err != nil {
		return err
	}

	filter := &inspect.Filter{Window: window, AgentID: agentID}
	return inspect.ListMessages(ctx, s.board, s.cfg.Instance, format, filter, printer.Stdout)
}

func runBoardGet(ctx context.Context, cmd *cobra.Command, id int64) error {
	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := inspect.GetMessage(ctx, s.board, id, printer.Stdout); err != nil {
		if board.IsNotFound(err) {
			return printer.Error(
				fmt.Sprintf("message %d not found", id),
				fmt.Sprintf("No message %d is active or archived in instance '%s'.", id, s.cfg.Instance),
				nil,
			)
		}
		return fmt.Errorf("failed to read message %d: %w", id, err)
	}
	return nil
}
