package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/dyluth/taskboard/pkg/board"
)

// processResponse applies one response to the task it resolves, then archives
// the response and the request it answers.
func (a *Agent) processResponse(ctx context.Context, rt *Runtime, m *board.Message, resp board.Response) error {
	var err error
	switch outcome := resp.Outcome.(type) {
	case board.SplitTask:
		err = a.handleSplit(ctx, rt, m, resp, outcome)
	case board.DependenciesNeeded:
		err = a.handleDependenciesNeeded(ctx, rt, m, resp, outcome)
	case board.Done:
		err = a.handleDone(ctx, rt, m, resp)
	default:
		err = &ProtocolError{AgentID: a.ID, Message: m, Reason: fmt.Sprintf("unknown outcome %T", resp.Outcome)}
	}
	if err != nil {
		return err
	}

	a.archiveResolved(ctx, rt.Board, m.ID, resp.RequestID)
	return nil
}

// handleSplit turns one execution obligation into one dependency request per
// subtask, each sent to a distinct free sub-worker. Subtasks already sent by
// an earlier attempt at the same response are not sent again.
func (a *Agent) handleSplit(ctx context.Context, rt *Runtime, m *board.Message, resp board.Response, split board.SplitTask) error {
	if resp.Subtype != board.SubtypeExecution {
		return &ProtocolError{AgentID: a.ID, Message: m, Reason: "split_task is only valid for an execution request"}
	}

	rec := a.Tasks.FindByExecutionID(resp.RequestID)
	if rec == nil {
		return &MissingReferentError{AgentID: a.ID, RequestID: resp.RequestID, Subtype: resp.Subtype}
	}

	tracked, err := a.trackedDependencies(ctx, rt.Board, rec)
	if err != nil {
		return err
	}
	sent := make(map[string]int)
	for _, dm := range tracked {
		if req, ok := dm.Body.(board.Request); ok && req.Subtype == board.SubtypeDependency {
			sent[req.TaskName]++
		}
	}

	var pending []string
	for _, subtask := range split.Subtasks {
		if sent[subtask] > 0 {
			sent[subtask]--
			continue
		}
		pending = append(pending, subtask)
	}

	if len(pending) > 0 {
		free, err := a.Allocate(ctx, rt, len(pending))
		if err != nil {
			return fmt.Errorf("failed to allocate sub-workers for %q: %w", rec.Name, err)
		}

		for i, subtask := range pending {
			subID := free[i]
			reqID, err := a.RequestTask(ctx, rt.Board, subID, subtask, board.SubtypeDependency)
			if err != nil {
				return fmt.Errorf("failed to assign subtask %q: %w", subtask, err)
			}
			rec.DependencyIDs = append(rec.DependencyIDs, reqID)
			if err := a.SetStatus(subID, StatusBusy); err != nil {
				return err
			}
		}
	}

	rec.ExecutionIDs = removeID(rec.ExecutionIDs, resp.RequestID)
	return nil
}

// handleDependenciesNeeded asks each named agent to register this task as a
// dependent of theirs. The answered execution request is retired: the task
// becomes ready again, and is re-dispatched, once every note is resolved.
func (a *Agent) handleDependenciesNeeded(ctx context.Context, rt *Runtime, m *board.Message, resp board.Response, deps board.DependenciesNeeded) error {
	if resp.Subtype != board.SubtypeExecution {
		return &ProtocolError{AgentID: a.ID, Message: m, Reason: "dependencies_needed is only valid for an execution request"}
	}

	rec := a.Tasks.FindByExecutionID(resp.RequestID)
	if rec == nil {
		return &MissingReferentError{AgentID: a.ID, RequestID: resp.RequestID, Subtype: resp.Subtype}
	}

	recipients := make([]string, 0, len(deps.Dependencies))
	for id := range deps.Dependencies {
		recipients = append(recipients, id)
	}
	slices.Sort(recipients)

	tracked, err := a.trackedDependencies(ctx, rt.Board, rec)
	if err != nil {
		return err
	}
	sent := make(map[[2]string]int)
	for _, dm := range tracked {
		if note, ok := dm.Body.(board.Note); ok && note.DependentTask == rec.Name {
			sent[[2]string{dm.RecipientID, note.DependencyTask}]++
		}
	}

	for _, recipientID := range recipients {
		for _, task := range deps.Dependencies[recipientID] {
			key := [2]string{recipientID, task}
			if sent[key] > 0 {
				sent[key]--
				continue
			}
			noteID, err := rt.Board.Post(ctx, &board.Message{
				SenderID:    a.ID,
				RecipientID: recipientID,
				Body: board.Note{
					Note:           board.NoteAddDependent,
					Subtype:        board.SubtypeDependency,
					DependencyTask: task,
					DependentTask:  rec.Name,
				},
			})
			if err != nil {
				return fmt.Errorf("failed to post dependency note to %s: %w", recipientID, err)
			}
			rec.DependencyIDs = append(rec.DependencyIDs, noteID)
		}
	}

	rec.ExecutionIDs = removeID(rec.ExecutionIDs, resp.RequestID)
	return nil
}

// handleDone resolves a Done response on either path.
//
// Execution path: the task is finished. The responder is released, then the
// source requester is told, then every dependent. The record is dropped only
// once every notification is on the board, so a failed turn retries with the
// record intact and skips the notifications that already went out.
//
// Dependency path: one prerequisite is finished; the task stays in the table
// until evaluation finds it has no obligations left.
func (a *Agent) handleDone(ctx context.Context, rt *Runtime, m *board.Message, resp board.Response) error {
	switch resp.Subtype {
	case board.SubtypeExecution:
		rec := a.Tasks.FindByExecutionID(resp.RequestID)
		if rec == nil {
			return &MissingReferentError{AgentID: a.ID, RequestID: resp.RequestID, Subtype: resp.Subtype}
		}

		if err := a.releaseResponder(m.SenderID); err != nil {
			return err
		}

		if err := a.notifyDone(ctx, rt.Board, rec.OriginRequestID); err != nil {
			return fmt.Errorf("failed to report %q done to its requester: %w", rec.Name, err)
		}
		for _, dependentID := range rec.DependentIDs {
			if err := a.notifyDone(ctx, rt.Board, dependentID); err != nil {
				return fmt.Errorf("failed to report %q done to dependent %d: %w", rec.Name, dependentID, err)
			}
		}

		a.Tasks.Delete(rec.Name)
		return nil

	case board.SubtypeDependency:
		rec := a.Tasks.FindByDependencyID(resp.RequestID)
		if rec == nil {
			return &MissingReferentError{AgentID: a.ID, RequestID: resp.RequestID, Subtype: resp.Subtype}
		}
		rec.DependencyIDs = removeID(rec.DependencyIDs, resp.RequestID)
		return a.releaseResponder(m.SenderID)

	default:
		return &ProtocolError{AgentID: a.ID, Message: m, Reason: fmt.Sprintf("unknown subtype %q", resp.Subtype)}
	}
}

// releaseResponder returns a busy sub-worker to the free set.
func (a *Agent) releaseResponder(senderID string) error {
	if !a.SubAgents.IsBusy(senderID) {
		return nil
	}
	if err := a.SetStatus(senderID, StatusFree); err != nil {
		return err
	}
	log.Printf("[Agent %s] Sub-agent %s released", a.ID, senderID)
	return nil
}

// notifyDone answers requestID with Done. A request this agent already
// answered, or one its sender has since archived, counts as notified.
func (a *Agent) notifyDone(ctx context.Context, b board.Board, requestID int64) error {
	_, err := a.Respond(ctx, b, requestID, board.Done{})
	if err == nil || errors.Is(err, ErrAlreadyAnswered) {
		return nil
	}
	if IsMissingReferent(err) {
		if _, archErr := b.Archived(ctx, requestID); archErr == nil {
			return nil
		}
	}
	return err
}

// trackedDependencies loads the messages behind rec's dependency ids, active
// or archived. Ids the board no longer knows are skipped.
func (a *Agent) trackedDependencies(ctx context.Context, b board.Board, rec *TaskRecord) ([]*board.Message, error) {
	var out []*board.Message
	for _, id := range rec.DependencyIDs {
		m, err := b.Get(ctx, id)
		if board.IsNotFound(err) {
			m, err = b.Archived(ctx, id)
		}
		if board.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read dependency %d of %q: %w", id, rec.Name, err)
		}
		out = append(out, m)
	}
	return out, nil
}
