package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknownSubAgent is returned when a status change names an id the pool never created.
var ErrUnknownSubAgent = errors.New("unknown sub-agent")

// Status is the allocation state of a sub-agent.
type Status string

const (
	// StatusFree marks a sub-agent available for new work
	StatusFree Status = "free"

	// StatusBusy marks a sub-agent holding a request from its parent
	StatusBusy Status = "busy"
)

// Pool holds the sub-agents an agent has spawned, split into two disjoint
// sets. Ids are never removed. All methods are safe for concurrent use.
type Pool struct {
	mu   sync.Mutex
	free []string
	busy []string
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{free: []string{}, busy: []string{}}
}

// Free returns the free sub-agent ids in ordering-hint order.
func (p *Pool) Free() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.free)
}

// Busy returns the busy sub-agent ids.
func (p *Pool) Busy() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.busy)
}

// IsBusy reports whether id is in the busy set.
func (p *Pool) IsBusy(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Contains(p.busy, id)
}

// Size returns the total number of sub-agents ever created.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free) + len(p.busy)
}

// Allocate ensures at least n sub-agents are free, calling spawn once per
// missing sub-agent. The deficit is computed and filled under the pool lock,
// so concurrent callers never spawn more than the combined shortfall.
// Returns the free ids.
func (p *Pool) Allocate(n int, spawn func() (string, error)) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for missing := n - len(p.free); missing > 0; missing-- {
		id, err := spawn()
		if err != nil {
			return nil, err
		}
		if slices.Contains(p.free, id) || slices.Contains(p.busy, id) {
			return nil, fmt.Errorf("spawned sub-agent id %q is already pooled", id)
		}
		p.free = append(p.free, id)
	}
	slices.Sort(p.free)

	return slices.Clone(p.free), nil
}

// SetStatus moves id into the set named by status. Moving an id already in
// that set is a no-op.
func (p *Pool) SetStatus(id string, status Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	inFree := slices.Contains(p.free, id)
	inBusy := slices.Contains(p.busy, id)
	if !inFree && !inBusy {
		return fmt.Errorf("sub-agent %q: %w", id, ErrUnknownSubAgent)
	}

	switch status {
	case StatusBusy:
		if inBusy {
			return nil
		}
		p.free = slices.DeleteFunc(p.free, func(s string) bool { return s == id })
		p.busy = append(p.busy, id)
	case StatusFree:
		if inFree {
			return nil
		}
		p.busy = slices.DeleteFunc(p.busy, func(s string) bool { return s == id })
		p.free = append(p.free, id)
		slices.Sort(p.free)
	default:
		return fmt.Errorf("unknown sub-agent status: %q", status)
	}
	return nil
}

type poolJSON struct {
	Free []string `json:"free"`
	Busy []string `json:"busy"`
}

// MarshalJSON encodes the pool as {"free": [...], "busy": [...]}.
func (p *Pool) MarshalJSON() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return json.Marshal(poolJSON{Free: p.free, Busy: p.busy})
}

// UnmarshalJSON decodes a pool, rejecting snapshots where the sets overlap.
func (p *Pool) UnmarshalJSON(data []byte) error {
	var raw poolJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Free == nil {
		raw.Free = []string{}
	}
	if raw.Busy == nil {
		raw.Busy = []string{}
	}
	for _, id := range raw.Free {
		if slices.Contains(raw.Busy, id) {
			return fmt.Errorf("sub-agent %q is both free and busy", id)
		}
	}
	slices.Sort(raw.Free)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = raw.Free
	p.busy = raw.Busy
	return nil
}
