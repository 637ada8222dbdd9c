package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/dyluth/taskboard/pkg/board"
)

// ProcessMessages drains the agent's inbox. Requests and notes the agent has
// already answered (it has an active response pointing at them) are skipped,
// so replaying a turn after a crash never re-admits finished work. Responses
// are always processed; they leave the board once handled.
func (a *Agent) ProcessMessages(ctx context.Context, rt *Runtime) error {
	answered, err := a.answeredRequests(ctx, rt.Board)
	if err != nil {
		return err
	}

	inbox, err := rt.Board.MessagesFor(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to read messages for %s: %w", a.ID, err)
	}

	for _, m := range inbox {
		if m.Kind() != board.KindResponse && answered[m.ID] {
			continue
		}

		switch body := m.Body.(type) {
		case board.Request:
			a.processRequest(m, body)
		case board.Note:
			a.processNote(m, body)
		case board.Response:
			if err := a.processResponse(ctx, rt, m, body); err != nil {
				return err
			}
		default:
			return &ProtocolError{AgentID: a.ID, Message: m, Reason: fmt.Sprintf("unknown message body %T", m.Body)}
		}
	}

	return nil
}

// answeredRequests derives the ids this agent has already responded to from
// its own responses still on the board.
func (a *Agent) answeredRequests(ctx context.Context, b board.Board) (map[int64]bool, error) {
	sent, err := b.MessagesFrom(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages from %s: %w", a.ID, err)
	}

	answered := make(map[int64]bool)
	for _, r := range board.ResponsesFrom(sent) {
		answered[r.RequestID] = true
	}
	return answered, nil
}

// processRequest admits a new task. Task names are unique per agent, so a
// request for a name already in the table is ignored.
func (a *Agent) processRequest(m *board.Message, req board.Request) {
	a.Tasks.Add(newTask(req.TaskName, m.ID, req.Subtype))
}

// processNote registers the note's sender as a dependent of one of this
// agent's tasks. A note naming a task the agent does not have yet admits that
// task, with the note standing in as its originating request.
func (a *Agent) processNote(m *board.Message, note board.Note) {
	rec, ok := a.Tasks.Get(note.DependencyTask)
	if !ok {
		a.Tasks.Add(newTask(note.DependencyTask, m.ID, note.Subtype))
		return
	}
	if rec.OriginRequestID == m.ID {
		return
	}
	rec.DependentIDs = appendUnique(rec.DependentIDs, m.ID)
}

// processEndpointMessages handles an Endpoint's inbox: Done responses are
// archived together with the request they answer; anything else is a
// protocol violation.
func (a *Agent) processEndpointMessages(ctx context.Context, b board.Board) error {
	inbox, err := b.MessagesFor(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to read messages for %s: %w", a.ID, err)
	}

	for _, m := range inbox {
		resp, ok := m.Body.(board.Response)
		if !ok {
			return &ProtocolError{AgentID: a.ID, Message: m, Reason: "endpoint agents only accept done responses"}
		}
		if _, done := resp.Outcome.(board.Done); !done {
			return &ProtocolError{AgentID: a.ID, Message: m, Reason: fmt.Sprintf("endpoint agents cannot accept %s", resp.Outcome.Type())}
		}
		a.archiveResolved(ctx, b, m.ID, resp.RequestID)
	}
	return nil
}

// archiveResolved archives the answered request, then its response. While
// the response is still active the responder's answered guard covers the
// request, so no observer sees the request unanswered. Archive failures are
// reported but do not fail the turn.
func (a *Agent) archiveResolved(ctx context.Context, b board.Board, responseID, requestID int64) {
	for _, id := range []int64{requestID, responseID} {
		if err := b.Archive(ctx, id); err != nil {
			log.Printf("[Agent %s] Failed to archive message %d: %v", a.ID, id, err)
		}
	}
}
