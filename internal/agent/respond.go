package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/taskboard/pkg/board"
)

// ErrAlreadyAnswered is returned when an agent responds twice to the same message.
var ErrAlreadyAnswered = errors.New("request already answered")

// RequestTask posts a request from this agent asking recipientID to perform task.
func (a *Agent) RequestTask(ctx context.Context, b board.Board, recipientID, task string, subtype board.Subtype) (int64, error) {
	return b.Post(ctx, &board.Message{
		SenderID:    a.ID,
		RecipientID: recipientID,
		Body:        board.Request{TaskName: task, Subtype: subtype},
	})
}

// Respond answers an active request or note addressed to this agent. The
// response copies the subtype of the original and goes back to its sender.
func (a *Agent) Respond(ctx context.Context, b board.Board, requestID int64, outcome board.Outcome) (int64, error) {
	if err := board.ValidateOutcome(outcome); err != nil {
		return 0, err
	}

	original, err := b.Get(ctx, requestID)
	if err != nil {
		if board.IsNotFound(err) {
			return 0, &MissingReferentError{AgentID: a.ID, RequestID: requestID}
		}
		return 0, fmt.Errorf("failed to read request %d: %w", requestID, err)
	}

	if original.RecipientID != a.ID {
		return 0, &ProtocolError{AgentID: a.ID, Message: original, Reason: fmt.Sprintf("message is addressed to %s", original.RecipientID)}
	}
	if original.Kind() == board.KindResponse {
		return 0, &ProtocolError{AgentID: a.ID, Message: original, Reason: "responses cannot be answered"}
	}

	answered, err := a.answeredRequests(ctx, b)
	if err != nil {
		return 0, err
	}
	if answered[requestID] {
		return 0, fmt.Errorf("message %d: %w", requestID, ErrAlreadyAnswered)
	}

	return b.Post(ctx, &board.Message{
		SenderID:    a.ID,
		RecipientID: original.SenderID,
		Body: board.Response{
			RequestID: requestID,
			Subtype:   original.Subtype(),
			Outcome:   outcome,
		},
	})
}

// RespondDone reports a request finished and drops the task it created.
// Used by human operators; the caller persists the agent afterwards.
func (a *Agent) RespondDone(ctx context.Context, b board.Board, requestID int64) (int64, error) {
	return a.respondAndDrop(ctx, b, requestID, board.Done{})
}

// RespondSplit answers a request by splitting it into ordered subtasks.
func (a *Agent) RespondSplit(ctx context.Context, b board.Board, requestID int64, subtasks []string) (int64, error) {
	return a.respondAndDrop(ctx, b, requestID, board.SplitTask{Subtasks: subtasks})
}

// RespondDependencies answers a request by naming the tasks other agents must
// finish first.
func (a *Agent) RespondDependencies(ctx context.Context, b board.Board, requestID int64, deps map[string][]string) (int64, error) {
	return a.respondAndDrop(ctx, b, requestID, board.DependenciesNeeded{Dependencies: deps})
}

func (a *Agent) respondAndDrop(ctx context.Context, b board.Board, requestID int64, outcome board.Outcome) (int64, error) {
	id, err := a.Respond(ctx, b, requestID, outcome)
	if err != nil {
		return 0, err
	}
	a.DropTask(requestID)
	return id, nil
}

// DropTask removes the task created by requestID, if the agent holds one.
func (a *Agent) DropTask(requestID int64) bool {
	rec := a.Tasks.FindByOrigin(requestID)
	if rec == nil {
		return false
	}
	a.Tasks.Delete(rec.Name)
	return true
}
