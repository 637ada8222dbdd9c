package commands

import (
	"context"
	"testing"

	"github.com/dyluth/taskboard/internal/agent"
	"github.com/dyluth/taskboard/internal/store"
	"github.com/dyluth/taskboard/pkg/board"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveResponder_ReappliesDropAfterConcurrentSave(t *testing.T) {
	ctx := context.Background()
	b := board.NewMemory()
	st := store.NewMemory()
	rt := &agent.Runtime{Board: b, Store: st, Executor: "human", NewAgentID: store.NewAgentID}

	post := func(task string) int64 {
		id, err := b.Post(ctx, &board.Message{
			SenderID:    "source",
			RecipientID: "human",
			Body:        board.Request{TaskName: task, Subtype: board.SubtypeExecution},
		})
		require.NoError(t, err)
		return id
	}

	buildID := post("build")
	post("test")

	h := agent.New("human", agent.KindHuman)
	require.NoError(t, h.Act(ctx, rt))
	require.NoError(t, st.Save(ctx, h))

	answering, err := st.Load(ctx, "human")
	require.NoError(t, err)
	inRound, err := st.Load(ctx, "human")
	require.NoError(t, err)

	_, err = answering.RespondDone(ctx, b, buildID)
	require.NoError(t, err)

	// A round admits new work and saves first
	post("lint")
	require.NoError(t, inRound.Act(ctx, rt))
	require.NoError(t, st.Save(ctx, inRound))

	require.NoError(t, saveResponder(ctx, st, answering, buildID))

	got, err := st.Load(ctx, "human")
	require.NoError(t, err)
	assert.Equal(t, []string{"test", "lint"}, got.TaskNames(), "both writes survive")
}

func TestSaveResponder_SavesWithoutRace(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	h := agent.New("human", agent.KindHuman)
	require.NoError(t, saveResponder(ctx, st, h, 1))
	assert.Equal(t, int64(1), h.Version)
}
