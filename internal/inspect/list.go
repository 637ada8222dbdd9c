// Package inspect reads the board and the agent store for the CLI and
// formats what it finds.
package inspect

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/dyluth/taskboard/internal/agent"
	"github.com/dyluth/taskboard/internal/store"
	"github.com/dyluth/taskboard/internal/timespec"
	"github.com/dyluth/taskboard/pkg/board"
)

// OutputFormat specifies how message listings are written.
type OutputFormat string

const (
	// OutputFormatDefault writes a table with one-line body summaries
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL writes complete messages as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Validate checks the format is known.
func (f OutputFormat) Validate() error {
	switch f {
	case OutputFormatDefault, OutputFormatJSONL:
		return nil
	default:
		return fmt.Errorf("unknown output format: %q (must be 'default' or 'jsonl')", f)
	}
}

// Filter narrows a message listing. All set criteria must match.
type Filter struct {
	Window  timespec.Range // Posted-at window; zero value is open
	AgentID string         // Sender or recipient; empty matches all
}

// Matches reports whether m passes the filter.
func (f *Filter) Matches(m *board.Message) bool {
	if f == nil {
		return true
	}
	if !f.Window.Contains(m.PostedAtMs) {
		return false
	}
	if f.AgentID != "" && m.SenderID != f.AgentID && m.RecipientID != f.AgentID {
		return false
	}
	return true
}

// ListMessages writes the active messages that pass filter, in post order.
func ListMessages(ctx context.Context, b board.Board, instanceName string, format OutputFormat, filter *Filter, w io.Writer) error {
	if err := format.Validate(); err != nil {
		return err
	}

	active, err := b.Active(ctx)
	if err != nil {
		return fmt.Errorf("failed to read active messages: %w", err)
	}

	var msgs []*board.Message
	for _, m := range active {
		if filter.Matches(m) {
			msgs = append(msgs, m)
		}
	}

	if format == OutputFormatJSONL {
		return FormatJSONL(w, msgs)
	}
	FormatTable(w, msgs, instanceName)
	return nil
}

// GetMessage writes one message as JSON, looking in the archive when it is no
// longer active. Returns an error wrapping board.ErrNotFound if neither has it.
func GetMessage(ctx context.Context, b board.Board, id int64, w io.Writer) error {
	m, err := b.Get(ctx, id)
	if board.IsNotFound(err) {
		m, err = b.Archived(ctx, id)
	}
	if err != nil {
		return err
	}
	return FormatSingleJSON(w, m)
}

// LoadAgents loads every stored agent in store order. Snapshots that fail to
// decode are skipped with a warning.
func LoadAgents(ctx context.Context, s store.Store) ([]*agent.Agent, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	agents := make([]*agent.Agent, 0, len(ids))
	for _, id := range ids {
		a, err := s.Load(ctx, id)
		if err != nil {
			log.Printf("Warning: skipping agent %s: %v", id, err)
			continue
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// ListAgents writes every stored agent as a table.
func ListAgents(ctx context.Context, s store.Store, instanceName string, w io.Writer) error {
	agents, err := LoadAgents(ctx, s)
	if err != nil {
		return err
	}
	FormatAgents(w, agents, instanceName)
	return nil
}
