package agent

import (
	"context"
	"fmt"

	"github.com/dyluth/taskboard/pkg/board"
)

// EvaluateTasks dispatches every ready task. The first task in the table goes
// to the designated executor; every other ready task is handed to a free
// sub-worker as an execution request. Only workers evaluate.
func (a *Agent) EvaluateTasks(ctx context.Context, rt *Runtime) error {
	if a.Kind != KindWorker {
		return nil
	}

	for i, name := range a.Tasks.Names() {
		rec, _ := a.Tasks.Get(name)
		if !rec.Ready() {
			continue
		}

		if i == 0 {
			reqID, err := a.RequestTask(ctx, rt.Board, rt.Executor, name, board.SubtypeExecution)
			if err != nil {
				return fmt.Errorf("failed to dispatch %q to executor %s: %w", name, rt.Executor, err)
			}
			rec.ExecutionIDs = append(rec.ExecutionIDs, reqID)
			continue
		}

		if err := a.assignToSubAgent(ctx, rt, rec); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) assignToSubAgent(ctx context.Context, rt *Runtime, rec *TaskRecord) error {
	free, err := a.Allocate(ctx, rt, 1)
	if err != nil {
		return fmt.Errorf("failed to allocate sub-worker for %q: %w", rec.Name, err)
	}
	subID := free[0]

	reqID, err := a.RequestTask(ctx, rt.Board, subID, rec.Name, board.SubtypeExecution)
	if err != nil {
		return fmt.Errorf("failed to delegate %q to %s: %w", rec.Name, subID, err)
	}
	rec.ExecutionIDs = append(rec.ExecutionIDs, reqID)

	return a.SetStatus(subID, StatusBusy)
}
