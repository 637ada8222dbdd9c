package board

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrNotFound is returned when a message id is not on the active board.
	ErrNotFound = errors.New("message not found")

	// ErrAlreadyArchived is returned when archiving a message that is already archived.
	ErrAlreadyArchived = errors.New("message already archived")
)

// Board is the shared, ordered message store. All operations are linearizable:
// implementations serialize access so that concurrent agent turns never
// observe a half-applied post or archive.
type Board interface {
	// Post validates the message, assigns the next id and stores it in the
	// active set. The assigned id and timestamp are written back into m.
	Post(ctx context.Context, m *Message) (int64, error)

	// Get returns an active message. Archived messages are not visible.
	Get(ctx context.Context, id int64) (*Message, error)

	// MessagesFor returns the active messages addressed to agentID in post order.
	MessagesFor(ctx context.Context, agentID string) ([]*Message, error)

	// MessagesFrom returns the active messages posted by agentID in post order.
	MessagesFrom(ctx context.Context, agentID string) ([]*Message, error)

	// PendingRecipients returns the distinct recipients of active messages,
	// ordered by their earliest pending message.
	PendingRecipients(ctx context.Context) ([]string, error)

	// Active returns every active message in post order.
	Active(ctx context.Context) ([]*Message, error)

	// Archive moves a message from the active set to the archive.
	// Archiving an absent id returns ErrNotFound, archiving twice returns
	// ErrAlreadyArchived. Neither changes board state.
	Archive(ctx context.Context, id int64) error

	// Archived returns a message from the archive, for inspection only.
	Archived(ctx context.Context, id int64) (*Message, error)
}

// IsNotFound returns true if the error reports an absent message.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyArchived returns true if the error reports a repeated archive.
func IsAlreadyArchived(err error) bool {
	return errors.Is(err, ErrAlreadyArchived)
}

// ResponsesFrom filters msgs down to the responses they contain.
func ResponsesFrom(msgs []*Message) []Response {
	var out []Response
	for _, m := range msgs {
		if r, ok := m.Body.(Response); ok {
			out = append(out, r)
		}
	}
	return out
}

// recipientsInOrder returns the distinct recipients of msgs, which must already
// be sorted by id.
func recipientsInOrder(msgs []*Message) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range msgs {
		if !seen[m.RecipientID] {
			seen[m.RecipientID] = true
			out = append(out, m.RecipientID)
		}
	}
	return out
}

func sortByID(msgs []*Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
}
