// Package store persists agent snapshots. The agent package depends only on
// the agent.Store interface; this package provides an in-process store and a
// Redis-backed one sharing the board's connection and namespace.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dyluth/taskboard/internal/agent"
	"github.com/google/uuid"
)

// Store is the full persistence provider used by the runner and the CLI.
type Store interface {
	agent.Store

	// List returns the ids of every stored agent.
	List(ctx context.Context) ([]string, error)
}

// NewAgentID generates a unique agent id. UUIDv7 values sort by creation
// time, which the sub-worker pool uses as its ordering hint.
func NewAgentID() string {
	return "agent-" + uuid.Must(uuid.NewV7()).String()
}

// Memory keeps JSON snapshots in a map, so an in-process store exercises the
// same round trip as a durable one.
type Memory struct {
	mu       sync.RWMutex
	agents   map[string][]byte
	versions map[string]int64
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		agents:   make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

// Load decodes the snapshot for id.
func (s *Memory) Load(ctx context.Context, id string) (*agent.Agent, error) {
	s.mu.RLock()
	data, ok := s.agents[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, agent.ErrAgentNotFound)
	}

	var a agent.Agent
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode agent %s: %w", id, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	return &a, nil
}

// Save replaces the snapshot for a.ID and advances a.Version. A snapshot
// loaded before the latest save is rejected with agent.ErrStaleSnapshot.
func (s *Memory) Save(ctx context.Context, a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid agent: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if stored := s.versions[a.ID]; stored != a.Version {
		return fmt.Errorf("agent %s is at version %d, snapshot has %d: %w", a.ID, stored, a.Version, agent.ErrStaleSnapshot)
	}

	next := *a
	next.Version++
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode agent %s: %w", a.ID, err)
	}

	s.agents[a.ID] = data
	s.versions[a.ID] = next.Version
	a.Version = next.Version
	return nil
}

// List returns the stored agent ids in lexical order.
func (s *Memory) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
