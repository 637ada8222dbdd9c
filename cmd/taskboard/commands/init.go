package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/dyluth/taskboard/internal/agent"
	"github.com/dyluth/taskboard/internal/printer"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the agents listed in taskboard.yml",
	Long: `Create every agent listed in taskboard.yml that is not already stored.

Existing agents are left untouched, so init is safe to re-run after adding
agents to the configuration.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ids := make([]string, 0, len(s.cfg.Agents))
	for id := range s.cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	created := 0
	for _, id := range ids {
		_, err := s.store.Load(ctx, id)
		if err == nil {
			printer.Info("  %s already exists\n", id)
			continue
		}
		if !agent.IsAgentNotFound(err) {
			return fmt.Errorf("failed to check agent %s: %w", id, err)
		}

		a := agent.New(id, agent.Kind(s.cfg.Agents[id].Kind))
		if err := s.store.Save(ctx, a); err != nil {
			return fmt.Errorf("failed to create agent %s: %w", id, err)
		}
		printer.Step("Created %s agent %s\n", a.Kind, id)
		created++
	}

	printer.Success("Instance '%s' ready (%d created, %d total)\n", s.cfg.Instance, created, len(ids))
	return nil
}
