package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dyluth/taskboard/pkg/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore round-trips snapshots through JSON like the real stores do.
type memStore struct {
	mu     sync.Mutex
	agents map[string][]byte
}

func (s *memStore) Load(ctx context.Context, id string) (*Agent, error) {
	s.mu.Lock()
	data, ok := s.agents[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrAgentNotFound)
	}
	var a Agent
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, a.Validate()
}

func (s *memStore) Save(ctx context.Context, a *Agent) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.agents[a.ID] = data
	s.mu.Unlock()
	return nil
}

// failingBoard fails the failOn-th Post it sees and passes everything else
// through to the wrapped board.
type failingBoard struct {
	board.Board
	failOn int
	posts  int
}

func (b *failingBoard) Post(ctx context.Context, m *board.Message) (int64, error) {
	b.posts++
	if b.posts == b.failOn {
		return 0, errors.New("connection reset by peer")
	}
	return b.Board.Post(ctx, m)
}

// failingPost returns a runtime whose board fails the failOn-th Post.
func (e *testEnv) failingPost(failOn int) *Runtime {
	rt := *e.rt
	rt.Board = &failingBoard{Board: e.board, failOn: failOn}
	return &rt
}

type testEnv struct {
	ctx   context.Context
	board *board.Memory
	store *memStore
	rt    *Runtime
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	b := board.NewMemory()
	s := &memStore{agents: make(map[string][]byte)}
	seq := 0
	return &testEnv{
		ctx:   context.Background(),
		board: b,
		store: s,
		rt: &Runtime{
			Board:    b,
			Store:    s,
			Executor: "human",
			NewAgentID: func() string {
				seq++
				return fmt.Sprintf("sub-%02d", seq)
			},
		},
	}
}

func (e *testEnv) post(t *testing.T, from, to string, body board.Body) int64 {
	t.Helper()
	id, err := e.board.Post(e.ctx, &board.Message{SenderID: from, RecipientID: to, Body: body})
	require.NoError(t, err)
	return id
}

func (e *testEnv) request(t *testing.T, from, to, task string) int64 {
	t.Helper()
	return e.post(t, from, to, board.Request{TaskName: task, Subtype: board.SubtypeExecution})
}

func (e *testEnv) get(t *testing.T, id int64) *board.Message {
	t.Helper()
	m, err := e.board.Get(e.ctx, id)
	require.NoError(t, err)
	return m
}

func (e *testEnv) assertArchived(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := e.board.Archived(e.ctx, id)
		assert.NoError(t, err, "message %d should be archived", id)
	}
}

// humanAnswers admits the human's mail and returns the human so the test can respond.
func (e *testEnv) humanAnswers(t *testing.T) *Agent {
	t.Helper()
	h := New("human", KindHuman)
	require.NoError(t, h.Act(e.ctx, e.rt))
	return h
}

func TestKindValidate(t *testing.T) {
	for _, k := range []Kind{KindWorker, KindEndpoint, KindHuman} {
		assert.NoError(t, k.Validate())
	}
	assert.ErrorContains(t, Kind("robot").Validate(), "unknown agent kind")
}

func TestAgentValidate(t *testing.T) {
	assert.ErrorContains(t, (&Agent{Kind: KindWorker}).Validate(), "agent id cannot be empty")
	assert.ErrorContains(t, (&Agent{ID: "a", Kind: "robot"}).Validate(), "unknown agent kind")

	a := &Agent{ID: "a", Kind: KindWorker}
	require.NoError(t, a.Validate())
	assert.NotNil(t, a.Tasks, "missing tables are filled in")
	assert.NotNil(t, a.SubAgents)
}

func TestAct_RequiresCompleteRuntime(t *testing.T) {
	e := newTestEnv(t)
	a := New("worker", KindWorker)

	rt := *e.rt
	rt.Executor = ""
	assert.ErrorContains(t, a.Act(e.ctx, &rt), "runtime has no executor")

	rt = *e.rt
	rt.NewAgentID = nil
	assert.ErrorContains(t, a.Act(e.ctx, &rt), "runtime has no agent id generator")
}

func TestProcessMessages_AdmitsEachTaskOnce(t *testing.T) {
	e := newTestEnv(t)
	first := e.request(t, "root", "human", "build")
	e.request(t, "other", "human", "test")
	e.request(t, "other", "human", "build")

	h := New("human", KindHuman)
	require.NoError(t, h.Act(e.ctx, e.rt))

	assert.Equal(t, []string{"build", "test"}, h.TaskNames())
	rec, ok := h.Tasks.Get("build")
	require.True(t, ok)
	assert.Equal(t, first, rec.OriginRequestID, "the first request for a name wins")
}

func TestProcessMessages_SkipsAnsweredRequests(t *testing.T) {
	e := newTestEnv(t)
	reqID := e.request(t, "root", "human", "build")

	h := e.humanAnswers(t)
	_, err := h.RespondDone(e.ctx, e.board, reqID)
	require.NoError(t, err)
	assert.Zero(t, h.Tasks.Len())

	// A snapshot that missed the save replays the same inbox
	stale := New("human", KindHuman)
	require.NoError(t, stale.Act(e.ctx, e.rt))
	assert.Zero(t, stale.Tasks.Len(), "an answered request is not admitted again")
}

func TestProcessMessages_NoteRegistersDependentOnce(t *testing.T) {
	e := newTestEnv(t)
	e.request(t, "root", "human", "build")
	noteID := e.post(t, "other", "human", board.Note{
		Note:           board.NoteAddDependent,
		Subtype:        board.SubtypeDependency,
		DependencyTask: "build",
		DependentTask:  "deploy",
	})

	h := New("human", KindHuman)
	require.NoError(t, h.Act(e.ctx, e.rt))
	require.NoError(t, h.Act(e.ctx, e.rt))

	rec, ok := h.Tasks.Get("build")
	require.True(t, ok)
	assert.Equal(t, []int64{noteID}, rec.DependentIDs)
}

func TestEvaluateTasks_ExecutorThenSubWorkers(t *testing.T) {
	e := newTestEnv(t)
	e.request(t, "root", "worker", "build")
	e.request(t, "root", "worker", "test")

	w := New("worker", KindWorker)
	require.NoError(t, w.Act(e.ctx, e.rt))

	build, _ := w.Tasks.Get("build")
	require.Len(t, build.ExecutionIDs, 1)
	toExecutor := e.get(t, build.ExecutionIDs[0])
	assert.Equal(t, "human", toExecutor.RecipientID)
	assert.Equal(t, board.SubtypeExecution, toExecutor.Subtype())

	test, _ := w.Tasks.Get("test")
	require.Len(t, test.ExecutionIDs, 1)
	toSub := e.get(t, test.ExecutionIDs[0])
	assert.Equal(t, "sub-01", toSub.RecipientID)
	assert.Equal(t, []string{"sub-01"}, w.SubAgents.Busy())

	sub, err := e.store.Load(e.ctx, "sub-01")
	require.NoError(t, err)
	assert.Equal(t, KindWorker, sub.Kind)
	assert.Equal(t, "worker", sub.SuperAgentID)

	// A second turn sees nothing new
	before, err := e.board.Active(e.ctx)
	require.NoError(t, err)
	require.NoError(t, w.Act(e.ctx, e.rt))
	after, err := e.board.Active(e.ctx)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestSplitTask_Lifecycle(t *testing.T) {
	e := newTestEnv(t)
	rootReq := e.request(t, "root", "worker", "report")

	w := New("worker", KindWorker)
	require.NoError(t, w.Act(e.ctx, e.rt))
	rec, _ := w.Tasks.Get("report")
	execID := rec.ExecutionIDs[0]

	h := e.humanAnswers(t)
	splitID, err := h.RespondSplit(e.ctx, e.board, execID, []string{"fetch", "render"})
	require.NoError(t, err)

	require.NoError(t, w.Act(e.ctx, e.rt))
	rec, _ = w.Tasks.Get("report")
	assert.Empty(t, rec.ExecutionIDs)
	require.Len(t, rec.DependencyIDs, 2, "one dependency per subtask")
	assert.Equal(t, []string{"sub-01", "sub-02"}, w.SubAgents.Busy())
	assert.Empty(t, w.SubAgents.Free())
	e.assertArchived(t, execID, splitID)

	for i, task := range []string{"fetch", "render"} {
		m := e.get(t, rec.DependencyIDs[i])
		assert.Equal(t, fmt.Sprintf("sub-%02d", i+1), m.RecipientID)
		assert.Equal(t, board.Request{TaskName: task, Subtype: board.SubtypeDependency}, m.Body)
	}
	depIDs := append([]int64(nil), rec.DependencyIDs...)

	// The first sub-worker finishes; the task still waits on the second
	sub1, err := e.store.Load(e.ctx, "sub-01")
	require.NoError(t, err)
	_, err = sub1.RespondDone(e.ctx, e.board, depIDs[0])
	require.NoError(t, err)

	require.NoError(t, w.Act(e.ctx, e.rt))
	rec, _ = w.Tasks.Get("report")
	assert.Equal(t, depIDs[1:], rec.DependencyIDs)
	assert.Empty(t, rec.ExecutionIDs)
	assert.Equal(t, []string{"sub-01"}, w.SubAgents.Free())

	sub2, err := e.store.Load(e.ctx, "sub-02")
	require.NoError(t, err)
	_, err = sub2.RespondDone(e.ctx, e.board, depIDs[1])
	require.NoError(t, err)

	// With no obligations left the task goes back to the executor
	require.NoError(t, w.Act(e.ctx, e.rt))
	rec, _ = w.Tasks.Get("report")
	assert.Empty(t, rec.DependencyIDs)
	require.Len(t, rec.ExecutionIDs, 1)
	assert.Equal(t, "human", e.get(t, rec.ExecutionIDs[0]).RecipientID)
	assert.Equal(t, []string{"sub-01", "sub-02"}, w.SubAgents.Free())

	h = e.humanAnswers(t)
	_, err = h.RespondDone(e.ctx, e.board, rec.ExecutionIDs[0])
	require.NoError(t, err)

	require.NoError(t, w.Act(e.ctx, e.rt))
	assert.Zero(t, w.Tasks.Len())

	root := New("root", KindEndpoint)
	require.NoError(t, root.Act(e.ctx, e.rt))
	e.assertArchived(t, rootReq)

	active, err := e.board.Active(e.ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDone_NotifiesRequesterAndDependents(t *testing.T) {
	e := newTestEnv(t)
	rootReq := e.request(t, "root", "worker", "build")
	dependent := func(from, task string) int64 {
		return e.post(t, from, "worker", board.Note{
			Note:           board.NoteAddDependent,
			Subtype:        board.SubtypeDependency,
			DependencyTask: "build",
			DependentTask:  task,
		})
	}
	note1 := dependent("other", "deploy")
	note2 := dependent("another", "publish")

	w := New("worker", KindWorker)
	require.NoError(t, w.Act(e.ctx, e.rt))
	rec, _ := w.Tasks.Get("build")
	assert.Equal(t, []int64{note1, note2}, rec.DependentIDs)
	execID := rec.ExecutionIDs[0]

	h := e.humanAnswers(t)
	doneID, err := h.RespondDone(e.ctx, e.board, execID)
	require.NoError(t, err)

	require.NoError(t, w.Act(e.ctx, e.rt))
	assert.Zero(t, w.Tasks.Len())
	e.assertArchived(t, execID, doneID)

	_, err = e.board.Get(e.ctx, execID)
	assert.True(t, board.IsNotFound(err), "the execution request is no longer retrievable")

	sent, err := e.board.MessagesFrom(e.ctx, "worker")
	require.NoError(t, err)
	require.Len(t, sent, 3)

	assert.Equal(t, "root", sent[0].RecipientID)
	assert.Equal(t, board.Response{RequestID: rootReq, Subtype: board.SubtypeExecution, Outcome: board.Done{}}, sent[0].Body)
	assert.Equal(t, "other", sent[1].RecipientID)
	assert.Equal(t, board.Response{RequestID: note1, Subtype: board.SubtypeDependency, Outcome: board.Done{}}, sent[1].Body)
	assert.Equal(t, "another", sent[2].RecipientID)
	assert.Equal(t, board.Response{RequestID: note2, Subtype: board.SubtypeDependency, Outcome: board.Done{}}, sent[2].Body)
}

func TestDone_RetryAfterFailedNotification(t *testing.T) {
	tests := []struct {
		name        string
		failOn      int
		rootResolve bool // the requester archives its Done before the retry
	}{
		{name: "requester notification fails", failOn: 1},
		{name: "dependent notification fails", failOn: 2},
		{name: "requester resolves before retry", failOn: 2, rootResolve: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			rootReq := e.request(t, "root", "worker", "build")
			noteID := e.post(t, "other", "worker", board.Note{
				Note:           board.NoteAddDependent,
				Subtype:        board.SubtypeDependency,
				DependencyTask: "build",
				DependentTask:  "deploy",
			})

			w := New("worker", KindWorker)
			require.NoError(t, w.Act(e.ctx, e.rt))
			rec, _ := w.Tasks.Get("build")
			execID := rec.ExecutionIDs[0]

			h := e.humanAnswers(t)
			doneID, err := h.RespondDone(e.ctx, e.board, execID)
			require.NoError(t, err)

			require.Error(t, w.Act(e.ctx, e.failingPost(tt.failOn)))
			assert.Equal(t, []string{"build"}, w.TaskNames(), "the record survives a failed notification")

			if tt.rootResolve {
				require.NoError(t, New("root", KindEndpoint).Act(e.ctx, e.rt))
				e.assertArchived(t, rootReq)
			}

			require.NoError(t, w.Act(e.ctx, e.rt))
			assert.Zero(t, w.Tasks.Len())
			e.assertArchived(t, execID, doneID)

			sent, err := e.board.MessagesFrom(e.ctx, "worker")
			require.NoError(t, err)
			var toRoot, toOther int
			for _, m := range sent {
				switch m.RecipientID {
				case "root":
					toRoot++
				case "other":
					toOther++
					assert.Equal(t, noteID, m.Body.(board.Response).RequestID)
				}
			}
			if tt.rootResolve {
				assert.Zero(t, toRoot)
			} else {
				assert.Equal(t, 1, toRoot, "the requester is told exactly once")
			}
			assert.Equal(t, 1, toOther, "the dependent is told exactly once")
		})
	}
}

func TestSplitTask_RetryAfterFailedAssignment(t *testing.T) {
	e := newTestEnv(t)
	e.request(t, "root", "worker", "report")

	w := New("worker", KindWorker)
	require.NoError(t, w.Act(e.ctx, e.rt))
	rec, _ := w.Tasks.Get("report")
	execID := rec.ExecutionIDs[0]

	h := e.humanAnswers(t)
	splitID, err := h.RespondSplit(e.ctx, e.board, execID, []string{"fetch", "render"})
	require.NoError(t, err)

	// The first subtask goes out, the second post fails
	require.Error(t, w.Act(e.ctx, e.failingPost(2)))
	rec, _ = w.Tasks.Get("report")
	require.Len(t, rec.DependencyIDs, 1)
	assert.Equal(t, []int64{execID}, rec.ExecutionIDs)

	require.NoError(t, w.Act(e.ctx, e.rt))
	rec, _ = w.Tasks.Get("report")
	require.Len(t, rec.DependencyIDs, 2, "split into 2 yields exactly 2 dependencies")
	assert.Empty(t, rec.ExecutionIDs)
	assert.Equal(t, []string{"sub-01", "sub-02"}, w.SubAgents.Busy())
	assert.Empty(t, w.SubAgents.Free())
	e.assertArchived(t, execID, splitID)

	for i, task := range []string{"fetch", "render"} {
		m := e.get(t, rec.DependencyIDs[i])
		assert.Equal(t, fmt.Sprintf("sub-%02d", i+1), m.RecipientID)
		assert.Equal(t, board.Request{TaskName: task, Subtype: board.SubtypeDependency}, m.Body)
	}

	active, err := e.board.Active(e.ctx)
	require.NoError(t, err)
	assert.Len(t, active, 3, "root request plus one request per subtask")
}

func TestDependenciesNeeded_PostsNotes(t *testing.T) {
	e := newTestEnv(t)
	e.request(t, "root", "worker", "build")

	w := New("worker", KindWorker)
	require.NoError(t, w.Act(e.ctx, e.rt))
	rec, _ := w.Tasks.Get("build")
	execID := rec.ExecutionIDs[0]

	h := e.humanAnswers(t)
	_, err := h.RespondDependencies(e.ctx, e.board, execID, map[string][]string{
		"zeta":  {"z1"},
		"alpha": {"a1", "a2"},
	})
	require.NoError(t, err)

	require.NoError(t, w.Act(e.ctx, e.rt))
	rec, _ = w.Tasks.Get("build")
	assert.Empty(t, rec.ExecutionIDs)
	require.Len(t, rec.DependencyIDs, 3)

	want := []struct{ to, task string }{{"alpha", "a1"}, {"alpha", "a2"}, {"zeta", "z1"}}
	for i, id := range rec.DependencyIDs {
		m := e.get(t, id)
		assert.Equal(t, want[i].to, m.RecipientID)
		assert.Equal(t, board.Note{
			Note:           board.NoteAddDependent,
			Subtype:        board.SubtypeDependency,
			DependencyTask: want[i].task,
			DependentTask:  "build",
		}, m.Body)
	}
	noteIDs := append([]int64(nil), rec.DependencyIDs...)

	// A note for an unknown task admits it with the note as origin
	alpha := New("alpha", KindHuman)
	require.NoError(t, alpha.Act(e.ctx, e.rt))
	assert.Equal(t, []string{"a1", "a2"}, alpha.TaskNames())
	a1, _ := alpha.Tasks.Get("a1")
	assert.Equal(t, noteIDs[0], a1.OriginRequestID)
	assert.Equal(t, board.SubtypeDependency, a1.Subtype)

	_, err = alpha.RespondDone(e.ctx, e.board, noteIDs[0])
	require.NoError(t, err)

	require.NoError(t, w.Act(e.ctx, e.rt))
	rec, _ = w.Tasks.Get("build")
	assert.Equal(t, noteIDs[1:], rec.DependencyIDs)
	e.assertArchived(t, noteIDs[0])
}

func TestDependenciesNeeded_RetryAfterFailedNote(t *testing.T) {
	e := newTestEnv(t)
	e.request(t, "root", "worker", "build")

	w := New("worker", KindWorker)
	require.NoError(t, w.Act(e.ctx, e.rt))
	rec, _ := w.Tasks.Get("build")
	execID := rec.ExecutionIDs[0]

	h := e.humanAnswers(t)
	_, err := h.RespondDependencies(e.ctx, e.board, execID, map[string][]string{
		"alpha": {"a1", "a2"},
		"zeta":  {"z1"},
	})
	require.NoError(t, err)

	require.Error(t, w.Act(e.ctx, e.failingPost(3)))
	rec, _ = w.Tasks.Get("build")
	require.Len(t, rec.DependencyIDs, 2)

	require.NoError(t, w.Act(e.ctx, e.rt))
	rec, _ = w.Tasks.Get("build")
	assert.Empty(t, rec.ExecutionIDs)
	require.Len(t, rec.DependencyIDs, 3, "each note is posted once")

	want := []struct{ to, task string }{{"alpha", "a1"}, {"alpha", "a2"}, {"zeta", "z1"}}
	for i, id := range rec.DependencyIDs {
		m := e.get(t, id)
		assert.Equal(t, want[i].to, m.RecipientID)
		assert.Equal(t, want[i].task, m.Body.(board.Note).DependencyTask)
	}
}

func TestProcessResponse_SplitOnDependencyIsProtocolError(t *testing.T) {
	e := newTestEnv(t)
	e.post(t, "sub-01", "worker", board.Response{
		RequestID: 7,
		Subtype:   board.SubtypeDependency,
		Outcome:   board.SplitTask{Subtasks: []string{"a"}},
	})

	w := New("worker", KindWorker)
	err := w.Act(e.ctx, e.rt)
	assert.True(t, IsProtocolError(err))
	assert.ErrorContains(t, err, "split_task is only valid for an execution request")
}

func TestProcessResponse_MissingReferent(t *testing.T) {
	e := newTestEnv(t)
	e.post(t, "human", "worker", board.Response{RequestID: 99, Subtype: board.SubtypeExecution, Outcome: board.Done{}})

	w := New("worker", KindWorker)
	err := w.Act(e.ctx, e.rt)
	assert.True(t, IsMissingReferent(err))
	assert.ErrorContains(t, err, "no task tracks execution request 99")
}

func TestEndpoint_RejectsAnythingButDone(t *testing.T) {
	t.Run("request", func(t *testing.T) {
		e := newTestEnv(t)
		e.request(t, "worker", "root", "misrouted")

		err := New("root", KindEndpoint).Act(e.ctx, e.rt)
		assert.True(t, IsProtocolError(err))
		assert.ErrorContains(t, err, "endpoint agents only accept done responses")
	})

	t.Run("split response", func(t *testing.T) {
		e := newTestEnv(t)
		e.post(t, "worker", "root", board.Response{
			RequestID: 1,
			Subtype:   board.SubtypeExecution,
			Outcome:   board.SplitTask{Subtasks: []string{"a"}},
		})

		err := New("root", KindEndpoint).Act(e.ctx, e.rt)
		assert.True(t, IsProtocolError(err))
		assert.ErrorContains(t, err, "cannot accept split_task")
	})
}

func TestRespond_Validation(t *testing.T) {
	e := newTestEnv(t)
	reqID := e.request(t, "root", "human", "build")
	otherID := e.request(t, "root", "worker", "test")

	h := New("human", KindHuman)

	_, err := h.Respond(e.ctx, e.board, 42, board.Done{})
	assert.True(t, IsMissingReferent(err))

	_, err = h.Respond(e.ctx, e.board, otherID, board.Done{})
	assert.True(t, IsProtocolError(err))
	assert.ErrorContains(t, err, "message is addressed to worker")

	_, err = h.Respond(e.ctx, e.board, reqID, board.SplitTask{})
	assert.ErrorContains(t, err, "at least one subtask")

	respID, err := h.Respond(e.ctx, e.board, reqID, board.Done{})
	require.NoError(t, err)

	_, err = h.Respond(e.ctx, e.board, reqID, board.Done{})
	assert.ErrorIs(t, err, ErrAlreadyAnswered)

	root := New("root", KindEndpoint)
	_, err = root.Respond(e.ctx, e.board, respID, board.Done{})
	assert.True(t, IsProtocolError(err))
	assert.ErrorContains(t, err, "responses cannot be answered")
}
