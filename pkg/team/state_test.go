package team

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateStartsAtRouter(t *testing.T) {
	st := NewState("thread-1", "hello")

	assert.Equal(t, RouterName, st.Next)
	assert.Zero(t, st.TurnCount)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, RoleUser, st.Messages[0].Role)
	assert.Equal(t, "hello", st.Messages[0].Content)
}

func TestMergeAppendsMessages(t *testing.T) {
	st := NewState("t", "q")

	Merge(st, Delta{Messages: []Message{NewSpecialistMessage("research", "a")}})
	Merge(st, Delta{Messages: []Message{NewSpecialistMessage("planner", "b")}})

	require.Len(t, st.Messages, 3)
	assert.Equal(t, "a", st.Messages[1].Content)
	assert.Equal(t, "b", st.Messages[2].Content)
}

func TestMergeContributorsIsASet(t *testing.T) {
	st := NewState("t", "q")

	Merge(st, Delta{Contributors: []string{"planner", "research"}})
	Merge(st, Delta{Contributors: []string{"research", "builder"}})

	assert.Equal(t, []string{"builder", "planner", "research"}, st.Contributors)
	assert.True(t, st.HasContributed("builder"))
	assert.False(t, st.HasContributed("security"))
}

func TestMergeNextLastWriteWins(t *testing.T) {
	st := NewState("t", "q")

	Merge(st, Delta{Next: "planner"})
	assert.Equal(t, "planner", st.Next)

	// An empty next leaves the previous target in place.
	Merge(st, Delta{})
	assert.Equal(t, "planner", st.Next)

	Merge(st, Delta{Next: Terminal})
	assert.Equal(t, Terminal, st.Next)
}

func TestMergeScalars(t *testing.T) {
	st := NewState("t", "q")

	Merge(st, Delta{NeedsRetry: true, LastError: "compile failed"})
	assert.True(t, st.NeedsRetry)
	assert.Equal(t, "compile failed", st.LastError)

	// NeedsRetry is overwritten each merge; LastError sticks until replaced.
	Merge(st, Delta{})
	assert.False(t, st.NeedsRetry)
	assert.Equal(t, "compile failed", st.LastError)

	Merge(st, Delta{LastError: "tests failed"})
	assert.Equal(t, "tests failed", st.LastError)
}

func TestMergeSubTasksByID(t *testing.T) {
	st := NewState("t", "q")

	Merge(st, Delta{SubTasks: map[string]SubTask{
		"s1": {ID: "s1", Specialist: "builder", Status: "pending"},
		"s2": {ID: "s2", Specialist: "reviewer", Status: "pending"},
	}})
	Merge(st, Delta{
		SubTasks:          map[string]SubTask{"s1": {ID: "s1", Specialist: "builder", Status: "done", Result: "ok"}},
		AggregatedResults: []string{"ok"},
	})

	require.Len(t, st.SubTasks, 2)
	assert.Equal(t, "done", st.SubTasks["s1"].Status, "last write wins per id")
	assert.Equal(t, "pending", st.SubTasks["s2"].Status)
	assert.Equal(t, []string{"ok"}, st.AggregatedResults)
}

func noopWork(context.Context, *State) (Delta, error) {
	return Delta{}, nil
}

func TestRegistryValidation(t *testing.T) {
	tests := []struct {
		name        string
		specialists []*Specialist
		wantErr     string
	}{
		{
			name: "valid set with handoffs",
			specialists: []*Specialist{
				{Name: "planner", Run: noopWork, Handoffs: []string{"builder"}},
				{Name: "builder", Run: noopWork},
			},
		},
		{
			name:        "reserved router name",
			specialists: []*Specialist{{Name: RouterName, Run: noopWork}},
			wantErr:     "reserved",
		},
		{
			name:        "reserved terminal name",
			specialists: []*Specialist{{Name: Terminal, Run: noopWork}},
			wantErr:     "reserved",
		},
		{
			name: "duplicate name",
			specialists: []*Specialist{
				{Name: "builder", Run: noopWork},
				{Name: "builder", Run: noopWork},
			},
			wantErr: "duplicate",
		},
		{
			name:        "missing unit of work",
			specialists: []*Specialist{{Name: "builder"}},
			wantErr:     "no unit of work",
		},
		{
			name: "unknown handoff target",
			specialists: []*Specialist{
				{Name: "planner", Run: noopWork, Handoffs: []string{"ghost"}},
			},
			wantErr: "unknown specialist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.specialists...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, r.Has("planner"))
			assert.Equal(t, []string{"builder", "planner"}, r.Names())
		})
	}
}

func TestCanHandOff(t *testing.T) {
	sp := &Specialist{Name: "planner", Run: noopWork, Handoffs: []string{"builder"}}

	assert.True(t, sp.CanHandOff("builder"))
	assert.False(t, sp.CanHandOff("security"), "registered but undeclared targets are rejected")

	bare := &Specialist{Name: "security", Run: noopWork}
	assert.False(t, bare.CanHandOff("builder"), "no allowlist means no direct handoffs")
}

func TestMaxSelfRetriesDefaults(t *testing.T) {
	sp := &Specialist{Name: "builder", Run: noopWork}
	assert.Equal(t, DefaultSelfRetries, sp.MaxSelfRetries())

	sp.SelfRetries = 5
	assert.Equal(t, 5, sp.MaxSelfRetries())
}
