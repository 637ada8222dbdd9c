package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dyluth/taskboard/internal/agent"
	"github.com/dyluth/taskboard/pkg/board"
	"github.com/redis/go-redis/v9"
)

// Redis stores each agent as a hash at taskboard:{instance}:agent:{id} and
// indexes ids in the taskboard:{instance}:agents ZSET.
type Redis struct {
	rdb          *redis.Client
	instanceName string
}

// NewRedis creates a Redis-backed store in the given instance namespace.
func NewRedis(rdb *redis.Client, instanceName string) (*Redis, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &Redis{rdb: rdb, instanceName: instanceName}, nil
}

// NewRedisFromBoard creates a store sharing the board client's connection and namespace.
func NewRedisFromBoard(c *board.Client) *Redis {
	return &Redis{rdb: c.Redis(), instanceName: c.InstanceName()}
}

// Load reads and decodes the snapshot for id.
// Returns an error wrapping agent.ErrAgentNotFound if none exists.
func (s *Redis) Load(ctx context.Context, id string) (*agent.Agent, error) {
	hashData, err := s.rdb.HGetAll(ctx, board.AgentKey(s.instanceName, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, fmt.Errorf("agent %s: %w", id, agent.ErrAgentNotFound)
	}

	a, err := HashToAgent(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize agent %s: %w", id, err)
	}
	return a, nil
}

// Save writes the full snapshot (HSET replacement) and indexes the id. The
// stored version is checked under WATCH, so a snapshot loaded before another
// writer's save fails with agent.ErrStaleSnapshot instead of overwriting it.
func (s *Redis) Save(ctx context.Context, a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid agent: %w", err)
	}

	hash, err := AgentToHash(a)
	if err != nil {
		return fmt.Errorf("failed to serialize agent: %w", err)
	}
	now := time.Now().UnixMilli()
	hash["updated_at_ms"] = now
	hash["version"] = a.Version + 1

	key := board.AgentKey(s.instanceName, a.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.HGet(ctx, key, "version").Int64()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to read agent version: %w", err)
		}
		if stored != a.Version {
			return fmt.Errorf("agent %s is at version %d, snapshot has %d: %w", a.ID, stored, a.Version, agent.ErrStaleSnapshot)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, hash)
			pipe.ZAddNX(ctx, board.AgentsKey(s.instanceName), redis.Z{Score: float64(now), Member: a.ID})
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		a.Version++
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("agent %s was saved concurrently: %w", a.ID, agent.ErrStaleSnapshot)
	case agent.IsStaleSnapshot(err):
		return err
	default:
		return fmt.Errorf("failed to write agent to Redis: %w", err)
	}
}

// List returns stored agent ids in the order they were first saved.
func (s *Redis) List(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.ZRange(ctx, board.AgentsKey(s.instanceName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return ids, nil
}

// AgentToHash converts an agent snapshot to a Redis hash.
// The task table and pool are JSON-encoded into single fields.
func AgentToHash(a *agent.Agent) (map[string]interface{}, error) {
	tasksJSON, err := json.Marshal(a.Tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tasks: %w", err)
	}

	poolJSON, err := json.Marshal(a.SubAgents)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sub_agents: %w", err)
	}

	return map[string]interface{}{
		"id":             a.ID,
		"kind":           string(a.Kind),
		"super_agent_id": a.SuperAgentID,
		"tasks":          string(tasksJSON),
		"sub_agents":     string(poolJSON),
		"version":        a.Version,
	}, nil
}

// HashToAgent converts a Redis hash back to an agent snapshot.
func HashToAgent(hash map[string]string) (*agent.Agent, error) {
	a := agent.New(hash["id"], agent.Kind(hash["kind"]))
	a.SuperAgentID = hash["super_agent_id"]

	if v := hash["version"]; v != "" {
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", v, err)
		}
		a.Version = version
	}

	if tasksJSON := hash["tasks"]; tasksJSON != "" {
		if err := json.Unmarshal([]byte(tasksJSON), a.Tasks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tasks: %w", err)
		}
	}

	if poolJSON := hash["sub_agents"]; poolJSON != "" {
		if err := json.Unmarshal([]byte(poolJSON), a.SubAgents); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sub_agents: %w", err)
		}
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
