package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/taskboard/internal/printer"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run rounds continuously until interrupted",
	Long: `Run rounds continuously. A round starts whenever a message is posted, and
at least once per runner.round_interval. GET /healthz on runner.health_addr
reports Redis connectivity and the last round.

Stop with Ctrl-C or SIGTERM; the round in progress completes first.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.newRunner()
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx)
	}()

	printer.Step("Serving instance '%s' (health on %s)\n", s.cfg.Instance, s.cfg.Runner.HealthAddr)

	select {
	case sig := <-sigCh:
		printer.Info("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			return fmt.Errorf("runner stopped: %w", runErr)
		}
	}

	printer.Success("Stopped\n")
	return nil
}
