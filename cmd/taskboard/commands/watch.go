package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/taskboard/internal/inspect"
	"github.com/dyluth/taskboard/internal/printer"
	"github.com/dyluth/taskboard/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchOutputFormat string
	watchAgent        string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream messages as they are posted",
	Long: `Stream every message posted to the board in real time.

Output Formats:
  default - One human-readable line per message with a timestamp
  jsonl   - Line-delimited JSON for programmatic processing

Examples:
  # Follow all activity
  taskboard watch

  # Follow the human executor's mail
  taskboard watch --agent=human

  # Export messages as JSON
  taskboard watch -o jsonl > messages.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	watchCmd.Flags().StringVar(&watchAgent, "agent", "", "Only messages sent or received by this agent")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format := inspect.OutputFormat(watchOutputFormat)
	if err := format.Validate(); err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	agentID, err := s.resolveFilterAgent(ctx, watchAgent)
	if err != nil {
		return err
	}

	sub, err := s.board.SubscribeMessages(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if format == inspect.OutputFormatDefault {
		printer.Info("Watching instance '%s' (Ctrl-C to stop)\n", s.cfg.Instance)
	}

	filter := &inspect.Filter{AgentID: agentID}
	return watch.StreamMessages(ctx, sub, format, filter, printer.Stdout)
}
