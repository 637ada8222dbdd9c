// Package watch follows board activity: streaming posted messages as they
// arrive and waiting for a request to be resolved.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/taskboard/internal/inspect"
	"github.com/dyluth/taskboard/pkg/board"
)

// pollInterval is how often PollForResolution checks the archive.
var pollInterval = 200 * time.Millisecond

// PollForResolution polls until requestID has been archived, which happens
// once its requester has processed the final Done response.
// Returns the archived request or an error if timeout occurs.
func PollForResolution(ctx context.Context, b board.Board, requestID int64, timeout time.Duration) (*board.Message, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for request %d after %v", requestID, timeout)

		case <-ticker.C:
			m, err := b.Archived(ctx, requestID)
			if err != nil {
				if board.IsNotFound(err) {
					// Still active, continue polling
					continue
				}
				return nil, fmt.Errorf("failed to query request %d: %w", requestID, err)
			}

			return m, nil
		}
	}
}

// StreamMessages writes every message delivered by sub that passes filter,
// until ctx is cancelled or the subscription closes. Subscription errors are
// reported inline and do not stop the stream.
func StreamMessages(ctx context.Context, sub *board.Subscription, format inspect.OutputFormat, filter *inspect.Filter, w io.Writer) error {
	if err := format.Validate(); err != nil {
		return err
	}

	events := sub.Events()
	errs := sub.Errors()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if format == inspect.OutputFormatDefault {
				fmt.Fprintf(w, "⚠️  %v\n", err)
			}

		case m, ok := <-events:
			if !ok {
				return nil
			}
			if !filter.Matches(m) {
				continue
			}
			if err := writeEvent(w, m, format); err != nil {
				return err
			}
		}
	}
}

func writeEvent(w io.Writer, m *board.Message, format inspect.OutputFormat) error {
	if format == inspect.OutputFormatJSONL {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message %d: %w", m.ID, err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	_, err := fmt.Fprintln(w, FormatEvent(m))
	return err
}

// FormatEvent renders one posted message as a timestamped line.
func FormatEvent(m *board.Message) string {
	ts := time.UnixMilli(m.PostedAtMs).Format("15:04:05")

	var label string
	switch m.Kind() {
	case board.KindRequest:
		label = "📨 Request"
	case board.KindResponse:
		label = "✅ Response"
	case board.KindNote:
		label = "📝 Note"
	default:
		label = "❓ Message"
	}

	return fmt.Sprintf("[%s] %s %d: %s → %s (%s) %s",
		ts, label, m.ID, m.SenderID, m.RecipientID, m.Subtype(), inspect.Summary(m))
}
