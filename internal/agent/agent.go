// Package agent implements the task-lifecycle state machine of a taskboard
// agent: message intake, response handling, task evaluation and the
// sub-worker pool. Agents communicate only through a board.Board.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/taskboard/pkg/board"
)

// Kind selects an agent's behaviour.
type Kind string

const (
	// KindWorker delegates, splits and spawns sub-workers
	KindWorker Kind = "worker"

	// KindEndpoint only accepts Done responses to requests it posted
	KindEndpoint Kind = "endpoint"

	// KindHuman admits requests like a worker but is answered by an operator
	KindHuman Kind = "human"
)

// Validate checks if the Kind is a valid enum value.
func (k Kind) Validate() error {
	switch k {
	case KindWorker, KindEndpoint, KindHuman:
		return nil
	default:
		return fmt.Errorf("unknown agent kind: %q", k)
	}
}

// Agent is an actor with a task table and a sub-worker pool.
// SuperAgentID is a back-reference only; parents own sub-agents through the
// pool and children are looked up by id, never traversed.
type Agent struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	SuperAgentID string     `json:"super_agent_id,omitempty"`
	Tasks        *TaskTable `json:"tasks"`
	SubAgents    *Pool      `json:"sub_agents"`

	// Version counts successful saves. Stores reject a snapshot whose
	// Version no longer matches the stored one.
	Version int64 `json:"version"`
}

// New creates an agent with an empty task table and pool.
func New(id string, kind Kind) *Agent {
	return &Agent{
		ID:        id,
		Kind:      kind,
		Tasks:     NewTaskTable(),
		SubAgents: NewPool(),
	}
}

// Validate checks a loaded snapshot has the fields a turn needs.
func (a *Agent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent id cannot be empty")
	}
	if err := a.Kind.Validate(); err != nil {
		return fmt.Errorf("agent %s: %w", a.ID, err)
	}
	if a.Tasks == nil {
		a.Tasks = NewTaskTable()
	}
	if a.SubAgents == nil {
		a.SubAgents = NewPool()
	}
	return nil
}

// TaskNames returns the agent's task names in insertion order.
func (a *Agent) TaskNames() []string {
	return a.Tasks.Names()
}

// ErrAgentNotFound is returned by stores when no snapshot exists for an id.
var ErrAgentNotFound = errors.New("agent not found")

// IsAgentNotFound returns true if the error reports a missing agent snapshot.
func IsAgentNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound)
}

// ErrStaleSnapshot is returned by stores when a snapshot was loaded before
// the most recent save of the same agent.
var ErrStaleSnapshot = errors.New("agent snapshot is stale")

// IsStaleSnapshot returns true if a save lost a race with another writer.
func IsStaleSnapshot(err error) bool {
	return errors.Is(err, ErrStaleSnapshot)
}

// Store persists agent snapshots. A saved snapshot must round-trip
// losslessly through Load, and Save must return ErrStaleSnapshot rather than
// overwrite a newer version.
type Store interface {
	Load(ctx context.Context, id string) (*Agent, error)
	Save(ctx context.Context, a *Agent) error
}

// Runtime bundles the collaborators an agent needs for one turn.
type Runtime struct {
	Board      board.Board
	Store      Store         // Receives newly spawned sub-agents
	NewAgentID func() string // Unique id generator for sub-agents
	Executor   string        // Agent that performs real-world work
}

func (rt *Runtime) validate() error {
	if rt.Board == nil {
		return fmt.Errorf("runtime has no board")
	}
	if rt.Store == nil {
		return fmt.Errorf("runtime has no store")
	}
	if rt.NewAgentID == nil {
		return fmt.Errorf("runtime has no agent id generator")
	}
	if rt.Executor == "" {
		return fmt.Errorf("runtime has no executor")
	}
	return nil
}

// Act runs one turn: drain the inbox, then (for workers) dispatch ready tasks.
// A turn stops at the first error; state mutated before the error stays in
// the agent so the caller can persist it in step with the board.
func (a *Agent) Act(ctx context.Context, rt *Runtime) error {
	if err := rt.validate(); err != nil {
		return err
	}

	switch a.Kind {
	case KindWorker:
		if err := a.ProcessMessages(ctx, rt); err != nil {
			return err
		}
		return a.EvaluateTasks(ctx, rt)
	case KindHuman:
		return a.ProcessMessages(ctx, rt)
	case KindEndpoint:
		return a.processEndpointMessages(ctx, rt.Board)
	default:
		return fmt.Errorf("agent %s: unknown agent kind: %q", a.ID, a.Kind)
	}
}

// Allocate ensures at least n free sub-workers exist, spawning and persisting
// exactly the shortfall. Returns the free ids.
func (a *Agent) Allocate(ctx context.Context, rt *Runtime, n int) ([]string, error) {
	return a.SubAgents.Allocate(n, func() (string, error) {
		sub := New(rt.NewAgentID(), KindWorker)
		sub.SuperAgentID = a.ID
		if err := rt.Store.Save(ctx, sub); err != nil {
			return "", fmt.Errorf("failed to save sub-agent %s: %w", sub.ID, err)
		}
		return sub.ID, nil
	})
}

// SetStatus moves a sub-agent between the free and busy sets.
func (a *Agent) SetStatus(id string, status Status) error {
	return a.SubAgents.SetStatus(id, status)
}
