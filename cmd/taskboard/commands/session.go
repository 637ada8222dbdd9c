package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dyluth/taskboard/internal/agent"
	"github.com/dyluth/taskboard/internal/config"
	"github.com/dyluth/taskboard/internal/printer"
	"github.com/dyluth/taskboard/internal/resolver"
	"github.com/dyluth/taskboard/internal/runner"
	"github.com/dyluth/taskboard/internal/store"
	"github.com/dyluth/taskboard/pkg/board"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// session is the configuration and connections one command works with.
type session struct {
	cfg   *config.TaskboardConfig
	board *board.Client
	store *store.Redis
}

func (s *session) Close() {
	s.board.Close()
}

// loadConfig reads taskboard.yml, falling back to built-in defaults when the
// default path does not exist, then applies environment and flag overrides.
func loadConfig(cmd *cobra.Command) (*config.TaskboardConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, printer.Error(
				"invalid configuration",
				fmt.Sprintf("Failed to load %s: %v", configPath, err),
				[]string{"Fix the file, or remove it to use the built-in defaults"},
			)
		}
		cfg = config.Default()
	}

	cfg.ApplyEnv(os.Getenv)
	if redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if instanceName != "" {
		cfg.Instance = instanceName
	}
	if err := config.ValidateInstanceName(cfg.Instance); err != nil {
		return nil, printer.Error(
			"invalid instance name",
			err.Error(),
			[]string{"Use lowercase letters, digits and inner hyphens, e.g. --instance=team-2"},
		)
	}
	return cfg, nil
}

// openSession loads configuration and connects to Redis.
func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, printer.Error(
			"invalid Redis URL",
			fmt.Sprintf("Could not parse %q: %v", cfg.RedisURL, err),
			[]string{"Use the form redis://host:port/db"},
		)
	}

	client, err := board.NewClient(redisOpts, cfg.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create board client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis not accessible",
			fmt.Sprintf("Error: %v", err),
			map[string]string{"Redis": cfg.RedisURL, "Instance": cfg.Instance},
			[]string{"Start Redis, or point --redis at a running server"},
		)
	}

	return &session{cfg: cfg, board: client, store: store.NewRedisFromBoard(client)}, nil
}

// resolveAgentID resolves ref to a stored agent id, turning a missing or
// ambiguous reference into a user-facing error.
func (s *session) resolveAgentID(ctx context.Context, ref string) (string, error) {
	id, err := resolver.ResolveAgentID(ctx, s.store, ref)
	if err == nil {
		return id, nil
	}

	var ambiguous *resolver.AmbiguousError
	switch {
	case resolver.IsNotFoundError(err):
		return "", printer.Error(
			fmt.Sprintf("agent '%s' not found", ref),
			fmt.Sprintf("No agent '%s' is stored in instance '%s'.", ref, s.cfg.Instance),
			[]string{"Create the configured agents:\n  taskboard init", "List stored agents:\n  taskboard agents"},
		)
	case errors.As(err, &ambiguous):
		return "", printer.Error(
			"ambiguous agent id",
			resolver.FormatAmbiguousError(ambiguous),
			[]string{"Use a longer prefix to uniquely identify the agent"},
		)
	}
	return "", err
}

// loadAgent resolves ref and loads the agent it names.
func (s *session) loadAgent(ctx context.Context, ref string) (*agent.Agent, error) {
	id, err := s.resolveAgentID(ctx, ref)
	if err != nil {
		return nil, err
	}

	a, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent %s: %w", id, err)
	}
	return a, nil
}

// resolveFilterAgent resolves an optional --agent filter.
func (s *session) resolveFilterAgent(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	return s.resolveAgentID(ctx, ref)
}

// newRunner builds a runner from the session's configuration.
func (s *session) newRunner() (*runner.Runner, error) {
	return runner.New(s.board, s.store, runner.Options{
		InstanceName:  s.cfg.Instance,
		Executor:      s.cfg.Executor,
		Concurrency:   *s.cfg.Runner.Concurrency,
		RoundInterval: s.cfg.Runner.Interval(),
		HealthAddr:    s.cfg.Runner.HealthAddr,
		NewAgentID:    store.NewAgentID,
	})
}
