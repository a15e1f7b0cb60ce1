package team

import "sort"

// Routing sentinels. Next is always either a registered specialist name or
// one of these two values.
const (
	// RouterName routes control back to the router for the next decision.
	RouterName = "router"
	// Terminal ends the turn. Absorbing: once set, the turn is over.
	Terminal = "FINISH"
)

// SubTask is one unit of hierarchically delegated work, keyed by ID.
type SubTask struct {
	ID         string `json:"id"`
	Specialist string `json:"specialist"`
	Query      string `json:"query"`
	Status     string `json:"status"`
	Result     string `json:"result,omitempty"`
}

// State is the conversation state threaded through a single turn. It is
// exclusively owned by the in-flight turn and is never shared across
// concurrent turns, so it carries no locking.
type State struct {
	ThreadID     string    `json:"thread_id"`
	Messages     []Message `json:"messages"`
	Next         string    `json:"next"`
	Contributors []string  `json:"contributors"`
	TurnCount    int       `json:"turn_count"`
	AgentRetries map[string]int `json:"agent_retries,omitempty"`
	NeedsRetry   bool           `json:"needs_retry,omitempty"`
	LastError    string         `json:"last_error,omitempty"`

	// Hierarchical delegation fields.
	SubTasks          map[string]SubTask `json:"sub_tasks,omitempty"`
	AggregatedResults []string           `json:"aggregated_results,omitempty"`
	SupervisorMode    bool               `json:"supervisor_mode,omitempty"`
	ParentTaskID      string             `json:"parent_task_id,omitempty"`
}

// NewState creates the initial state for a turn. Control starts at the router.
func NewState(threadID string, input string) *State {
	return &State{
		ThreadID:     threadID,
		Messages:     []Message{NewUserMessage(input)},
		Next:         RouterName,
		AgentRetries: make(map[string]int),
	}
}

// Delta is the partial state update a specialist returns. Zero-valued fields
// leave the corresponding state field untouched.
type Delta struct {
	Messages          []Message
	Contributors      []string
	Next              string
	NeedsRetry        bool
	LastError         string
	SubTasks          map[string]SubTask
	AggregatedResults []string
	SupervisorMode    bool
	ParentTaskID      string
}

// Merge folds a delta into the state and returns the updated state.
// Per-field combining rules:
//   - Messages: append (transcript is append-only).
//   - Contributors: set union, no duplicates, stored sorted.
//   - Next: last-write-wins when the delta names a target.
//   - NeedsRetry: last-write-wins (the engine clears it after honoring it).
//   - LastError: last-write-wins when non-empty.
//   - SubTasks: merged by id, last-write-wins per id.
//   - AggregatedResults: append.
//   - SupervisorMode / ParentTaskID: last-write-wins when set.
//
// TurnCount is advanced by the engine on every transition, not here.
func Merge(base *State, delta Delta) *State {
	st := base

	st.Messages = append(st.Messages, delta.Messages...)

	if len(delta.Contributors) > 0 {
		seen := make(map[string]bool, len(st.Contributors)+len(delta.Contributors))
		for _, c := range st.Contributors {
			seen[c] = true
		}
		for _, c := range delta.Contributors {
			if !seen[c] {
				st.Contributors = append(st.Contributors, c)
				seen[c] = true
			}
		}
		sort.Strings(st.Contributors)
	}

	if delta.Next != "" {
		st.Next = delta.Next
	}
	st.NeedsRetry = delta.NeedsRetry
	if delta.LastError != "" {
		st.LastError = delta.LastError
	}

	if len(delta.SubTasks) > 0 {
		if st.SubTasks == nil {
			st.SubTasks = make(map[string]SubTask, len(delta.SubTasks))
		}
		for id, task := range delta.SubTasks {
			st.SubTasks[id] = task
		}
	}
	st.AggregatedResults = append(st.AggregatedResults, delta.AggregatedResults...)

	if delta.SupervisorMode {
		st.SupervisorMode = true
	}
	if delta.ParentTaskID != "" {
		st.ParentTaskID = delta.ParentTaskID
	}

	return st
}

// HasContributed reports whether the named specialist acted this turn.
func (s *State) HasContributed(name string) bool {
	for _, c := range s.Contributors {
		if c == name {
			return true
		}
	}
	return false
}

// LastMessage returns the most recent message, or a zero Message when the
// transcript is empty.
func (s *State) LastMessage() Message {
	if len(s.Messages) == 0 {
		return Message{}
	}
	return s.Messages[len(s.Messages)-1]
}
