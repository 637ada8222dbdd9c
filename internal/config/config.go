package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/dyluth/taskboard/internal/agent"
	"gopkg.in/yaml.v3"
)

const (
	defaultInstance      = "default"
	defaultRedisURL      = "redis://localhost:6379/0"
	defaultExecutor      = "human"
	defaultSource        = "source"
	defaultRequester     = "cli"
	defaultConcurrency   = 1
	defaultRoundInterval = 2 * time.Second
	defaultHealthAddr    = ":8080"

	// MaxInstanceNameLength is the maximum length for an instance name (DNS-compatible)
	MaxInstanceNameLength = 63
)

// instanceNamePattern matches lowercase alphanumeric names with hyphens
// allowed between characters.
var instanceNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateInstanceName checks that an instance name is usable as a Redis
// key segment and follows DNS naming rules.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}

	if len(name) > MaxInstanceNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxInstanceNameLength)
	}

	if !instanceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}

	return nil
}

// RunnerConfig specifies how rounds are driven
type RunnerConfig struct {
	Concurrency   *int   `yaml:"concurrency,omitempty"`    // Agent turns allowed to run at once within a round (default 1)
	RoundInterval string `yaml:"round_interval,omitempty"` // Go duration between rounds in serve mode (default 2s)
	HealthAddr    string `yaml:"health_addr,omitempty"`    // Listen address of the /healthz endpoint (default :8080)

	interval time.Duration
}

// TaskboardConfig represents the top-level taskboard.yml configuration
type TaskboardConfig struct {
	Version   string           `yaml:"version"`
	Instance  string           `yaml:"instance,omitempty"`  // Redis namespace (default "default")
	RedisURL  string           `yaml:"redis_url,omitempty"` // Redis connection URL
	Executor  string           `yaml:"executor,omitempty"`  // Agent that performs real-world work (default "human")
	Source    string           `yaml:"source,omitempty"`    // Worker that receives new work (default "source")
	Requester string           `yaml:"requester,omitempty"` // Endpoint the CLI posts new work from (default "cli")
	Runner    *RunnerConfig    `yaml:"runner,omitempty"`
	Agents    map[string]Agent `yaml:"agents"` // Agents created at bootstrap, keyed by id
}

// Agent represents a single bootstrap agent
type Agent struct {
	Kind string `yaml:"kind"` // worker, endpoint or human
}

// Default returns the configuration used when no taskboard.yml exists: the
// CLI endpoint posts work to a source worker, backed by a human executor.
func Default() *TaskboardConfig {
	cfg := &TaskboardConfig{
		Version: "1.0",
		Agents: map[string]Agent{
			defaultRequester: {Kind: string(agent.KindEndpoint)},
			defaultSource:    {Kind: string(agent.KindWorker)},
			defaultExecutor:  {Kind: string(agent.KindHuman)},
		},
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// Validate applies defaults and performs strict validation on the configuration
func (c *TaskboardConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = defaultInstance
	}
	if err := ValidateInstanceName(c.Instance); err != nil {
		return err
	}
	if c.RedisURL == "" {
		c.RedisURL = defaultRedisURL
	}
	if c.Executor == "" {
		c.Executor = defaultExecutor
	}
	if c.Source == "" {
		c.Source = defaultSource
	}
	if c.Requester == "" {
		c.Requester = defaultRequester
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("no agents defined")
	}

	for id, a := range c.Agents {
		if err := a.Validate(id); err != nil {
			return err
		}
	}

	executor, ok := c.Agents[c.Executor]
	if !ok {
		return fmt.Errorf("executor '%s' is not defined in agents", c.Executor)
	}
	if executor.Kind == string(agent.KindEndpoint) {
		return fmt.Errorf("executor '%s' cannot be an endpoint", c.Executor)
	}

	source, ok := c.Agents[c.Source]
	if !ok {
		return fmt.Errorf("source '%s' is not defined in agents", c.Source)
	}
	if source.Kind == string(agent.KindEndpoint) {
		return fmt.Errorf("source '%s' cannot be an endpoint", c.Source)
	}

	requester, ok := c.Agents[c.Requester]
	if !ok {
		return fmt.Errorf("requester '%s' is not defined in agents", c.Requester)
	}
	if requester.Kind != string(agent.KindEndpoint) {
		return fmt.Errorf("requester '%s' must be an endpoint", c.Requester)
	}

	if c.Runner == nil {
		c.Runner = &RunnerConfig{}
	}
	return c.Runner.validate()
}

func (r *RunnerConfig) validate() error {
	if r.Concurrency == nil {
		n := defaultConcurrency
		r.Concurrency = &n
	}
	if *r.Concurrency < 1 {
		return fmt.Errorf("runner.concurrency must be >= 1, got %d", *r.Concurrency)
	}

	r.interval = defaultRoundInterval
	if r.RoundInterval != "" {
		d, err := time.ParseDuration(r.RoundInterval)
		if err != nil {
			return fmt.Errorf("runner.round_interval: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("runner.round_interval must be positive, got %s", r.RoundInterval)
		}
		r.interval = d
	}

	if r.HealthAddr == "" {
		r.HealthAddr = defaultHealthAddr
	}
	return nil
}

// Interval returns the parsed round interval. Only valid after Validate.
func (r *RunnerConfig) Interval() time.Duration {
	return r.interval
}

// Validate performs validation on a single agent configuration
func (a *Agent) Validate(id string) error {
	if id == "" {
		return fmt.Errorf("agent id cannot be empty")
	}
	if a.Kind == "" {
		return fmt.Errorf("agent '%s': kind is required", id)
	}
	if err := agent.Kind(a.Kind).Validate(); err != nil {
		return fmt.Errorf("agent '%s': %w (must be 'worker', 'endpoint' or 'human')", id, err)
	}
	return nil
}

// ApplyEnv overrides instance and Redis URL from TASKBOARD_INSTANCE and
// REDIS_URL when they are set.
func (c *TaskboardConfig) ApplyEnv(getenv func(string) string) {
	if v := getenv("TASKBOARD_INSTANCE"); v != "" {
		c.Instance = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
}

// Load reads and validates taskboard.yml from the specified path
func Load(path string) (*TaskboardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config TaskboardConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
