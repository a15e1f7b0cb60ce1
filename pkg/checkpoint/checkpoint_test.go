package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble/pkg/team"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	st := team.NewState("thread-1", "build the widget")
	team.Merge(st, team.Delta{
		Messages:     []team.Message{team.NewSpecialistMessage("planner", "plan ready")},
		Contributors: []string{"planner"},
		Next:         "builder",
	})
	st.TurnCount = 2
	st.AgentRetries["builder"] = 1

	require.NoError(t, store.Save(ctx, st))

	got, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "thread-1", got.ThreadID)
	assert.Equal(t, "builder", got.Next)
	assert.Equal(t, 2, got.TurnCount)
	assert.Equal(t, 1, got.AgentRetries["builder"])
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "plan ready", got.Messages[1].Content)
	assert.Equal(t, []string{"planner"}, got.Contributors)
}

func TestSaveUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	st := team.NewState("thread-1", "q")
	require.NoError(t, store.Save(ctx, st))

	st.TurnCount = 5
	st.Next = team.Terminal
	require.NoError(t, store.Save(ctx, st))

	got, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.TurnCount)
	assert.Equal(t, team.Terminal, got.Next)

	threads, err := store.Threads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"thread-1"}, threads, "upsert must not duplicate the thread")
}

func TestLoadMissingThread(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), "no-such-thread")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, team.NewState("thread-1", "q")))
	require.NoError(t, store.Delete(ctx, "thread-1"))

	_, err := store.Load(ctx, "thread-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Delete(ctx, "thread-1"), "deleting a missing thread is not an error")
}
