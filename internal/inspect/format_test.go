package inspect

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/taskboard/internal/agent"
	"github.com/dyluth/taskboard/pkg/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func freezeNow(t *testing.T) {
	t.Helper()
	prev := now
	now = func() time.Time { return fixedNow }
	t.Cleanup(func() { now = prev })
}

func sampleMessages() []*board.Message {
	posted := fixedNow.Add(-3 * time.Minute).UnixMilli()
	return []*board.Message{
		{ID: 1, SenderID: "root", RecipientID: "worker", PostedAtMs: posted,
			Body: board.Request{TaskName: "build-report", Subtype: board.SubtypeExecution}},
		{ID: 2, SenderID: "human", RecipientID: "worker", PostedAtMs: posted,
			Body: board.Response{RequestID: 1, Subtype: board.SubtypeExecution, Outcome: board.SplitTask{Subtasks: []string{"fetch-data", "render-pdf"}}}},
		{ID: 3, SenderID: "worker", RecipientID: "db", PostedAtMs: posted,
			Body: board.Note{Note: board.NoteAddDependent, Subtype: board.SubtypeDependency, DependencyTask: "migrate", DependentTask: "build-report"}},
	}
}

func TestFormatTable(t *testing.T) {
	freezeNow(t)

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Equal(t, 0, FormatTable(&buf, nil, "test"))
		assert.Equal(t, "No active messages for instance 'test'\n", buf.String())
	})

	t.Run("rows", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Equal(t, 3, FormatTable(&buf, sampleMessages(), "test"))

		output := buf.String()
		assert.Contains(t, output, "Active messages for instance 'test'")
		assert.Contains(t, output, "build-report")
		assert.Contains(t, output, "re #1: split fetch-data, render-pdf")
		assert.Contains(t, output, "add_dependent migrate <- build-report")
		assert.Contains(t, output, "3m ago")
		assert.Contains(t, output, "3 messages found")
	})
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name     string
		msg      *board.Message
		expected string
	}{
		{
			name:     "done",
			msg:      &board.Message{Body: board.Response{RequestID: 7, Outcome: board.Done{}}},
			expected: "re #7: done",
		},
		{
			name: "dependencies in agent order",
			msg: &board.Message{Body: board.Response{RequestID: 7, Outcome: board.DependenciesNeeded{Dependencies: map[string][]string{
				"qa": {"test"},
				"db": {"migrate", "seed"},
			}}}},
			expected: "re #7: deps db=migrate,seed;qa=test",
		},
		{
			name:     "long task name",
			msg:      &board.Message{Body: board.Request{TaskName: strings.Repeat("x", 50)}},
			expected: strings.Repeat("x", 37) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Summary(tt.msg))
		})
	}
}

func TestFormatAge(t *testing.T) {
	freezeNow(t)

	tests := []struct {
		ago      time.Duration
		expected string
	}{
		{30 * time.Second, "30s ago"},
		{5 * time.Minute, "5m ago"},
		{2 * time.Hour, "2h ago"},
		{49 * time.Hour, "2d ago"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatAge(fixedNow.Add(-tt.ago).UnixMilli()))
	}
	assert.Equal(t, "-", formatAge(0))
}

func TestFormatJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FormatJSONL(&buf, sampleMessages()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var decoded board.Message
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &decoded))
	assert.Equal(t, int64(2), decoded.ID)
	resp, ok := decoded.Body.(board.Response)
	require.True(t, ok)
	assert.Equal(t, board.SplitTask{Subtasks: []string{"fetch-data", "render-pdf"}}, resp.Outcome)
}

func TestFormatSingleJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, FormatSingleJSON(&buf, sampleMessages()[0]))

	assert.True(t, strings.HasSuffix(buf.String(), "}\n"))
	assert.Contains(t, buf.String(), "\n  \"id\": 1")
}

func TestFormatAgents(t *testing.T) {
	worker := agent.New("worker", agent.KindWorker)
	ids := []string{"sub-1", "sub-2"}
	_, err := worker.SubAgents.Allocate(2, func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	})
	require.NoError(t, err)
	require.NoError(t, worker.SubAgents.SetStatus("sub-1", agent.StatusBusy))

	sub := agent.New("sub-1", agent.KindWorker)
	sub.SuperAgentID = "worker"

	var buf bytes.Buffer
	assert.Equal(t, 2, FormatAgents(&buf, []*agent.Agent{worker, sub}, "test"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"worker", "worker", "0", "1", "1", "-"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"sub-1", "worker", "0", "0", "0", "worker"}, strings.Fields(lines[3]))
}

func TestFormatTasks(t *testing.T) {
	data := `{"id":"worker","kind":"worker","tasks":[
		{"name":"build-report","origin_request_id":1,"subtype":"execution","execution_ids":[],"dependency_ids":[4,5],"dependent_ids":[9]}
	],"sub_agents":{"free":[],"busy":[]}}`

	var a agent.Agent
	require.NoError(t, json.Unmarshal([]byte(data), &a))

	var buf bytes.Buffer
	assert.Equal(t, 1, FormatTasks(&buf, &a))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{"build-report", "1", "execution", "-", "4,5", "9"}, strings.Fields(lines[len(lines)-1]))

	var empty bytes.Buffer
	assert.Equal(t, 0, FormatTasks(&empty, agent.New("idle", agent.KindHuman)))
	assert.Equal(t, "Agent 'idle' has no tasks\n", empty.String())
}
