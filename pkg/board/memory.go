package board

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Board. A single mutex guards the active set and the
// archive, so every operation observes a consistent snapshot.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	active   map[int64]*Message
	archived map[int64]*Message
	now      func() time.Time
}

// NewMemory creates an empty in-process board.
func NewMemory() *Memory {
	return &Memory{
		active:   make(map[int64]*Message),
		archived: make(map[int64]*Message),
		now:      time.Now,
	}
}

// Post validates and stores m, assigning the next id.
func (b *Memory) Post(ctx context.Context, m *Message) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, fmt.Errorf("invalid message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	m.ID = b.nextID
	m.PostedAtMs = b.now().UnixMilli()

	b.active[m.ID] = clone(m)

	return m.ID, nil
}

// Get returns a copy of an active message.
func (b *Memory) Get(ctx context.Context, id int64) (*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.active[id]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return clone(m), nil
}

// MessagesFor returns active messages addressed to agentID in post order.
func (b *Memory) MessagesFor(ctx context.Context, agentID string) ([]*Message, error) {
	return b.filter(func(m *Message) bool { return m.RecipientID == agentID }), nil
}

// MessagesFrom returns active messages posted by agentID in post order.
func (b *Memory) MessagesFrom(ctx context.Context, agentID string) ([]*Message, error) {
	return b.filter(func(m *Message) bool { return m.SenderID == agentID }), nil
}

// PendingRecipients returns the distinct recipients of active messages.
func (b *Memory) PendingRecipients(ctx context.Context) ([]string, error) {
	return recipientsInOrder(b.filter(func(*Message) bool { return true })), nil
}

// Active returns every active message in post order.
func (b *Memory) Active(ctx context.Context) ([]*Message, error) {
	return b.filter(func(*Message) bool { return true }), nil
}

// Archive moves a message to the archive.
func (b *Memory) Archive(ctx context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.active[id]
	if !ok {
		if _, done := b.archived[id]; done {
			return fmt.Errorf("message %d: %w", id, ErrAlreadyArchived)
		}
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}

	delete(b.active, id)
	b.archived[id] = m
	return nil
}

// Archived returns a copy of an archived message.
func (b *Memory) Archived(ctx context.Context, id int64) (*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.archived[id]
	if !ok {
		return nil, fmt.Errorf("archived message %d: %w", id, ErrNotFound)
	}
	return clone(m), nil
}

func (b *Memory) filter(keep func(*Message) bool) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Message
	for _, m := range b.active {
		if keep(m) {
			out = append(out, clone(m))
		}
	}
	sortByID(out)
	return out
}

// clone copies m, including outcome payloads, so stored messages never share
// slices or maps with callers.
func clone(m *Message) *Message {
	cp := *m
	resp, ok := m.Body.(Response)
	if !ok {
		return &cp
	}

	switch o := resp.Outcome.(type) {
	case SplitTask:
		resp.Outcome = SplitTask{Subtasks: slices.Clone(o.Subtasks)}
	case DependenciesNeeded:
		deps := make(map[string][]string, len(o.Dependencies))
		for id, tasks := range o.Dependencies {
			deps[id] = slices.Clone(tasks)
		}
		resp.Outcome = DependenciesNeeded{Dependencies: deps}
	}
	cp.Body = resp
	return &cp
}
