package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ensemble/pkg/llm"
	"ensemble/pkg/logx"
	"ensemble/pkg/team"
	"ensemble/pkg/tokens"
)

// routerSystemPrompt instructs the routing model to answer with a single
// JSON object naming the next specialist.
const routerSystemPrompt = `You are the router for a team of specialist agents working on a user request.
Given the conversation so far, decide which specialist should act next.

Available specialists:
%s

Rules:
- Answer with a single JSON object: {"next": "<name>", "reasoning": "<one sentence>"}.
- "next" must be one of the specialist names above, or "FINISH" when the request is fully answered.
- Do not select a specialist that has already contributed unless new work for it exists.`

// LLMRouter asks a routing model which specialist acts next. Responses are
// parsed as JSON; anything unparseable or unknown terminates the turn rather
// than trusting free text.
type LLMRouter struct {
	client  llm.LLMClient
	names   []string
	counter *tokens.Counter
	budget  int // context token budget; 0 disables truncation
	logger  *logx.Logger
}

// NewLLMRouter creates a router over the given model client and specialist
// names. counter and budget bound the transcript context sent per decision.
func NewLLMRouter(client llm.LLMClient, names []string, counter *tokens.Counter, budget int) *LLMRouter {
	return &LLMRouter{
		client:  client,
		names:   names,
		counter: counter,
		budget:  budget,
		logger:  logx.NewLogger("router"),
	}
}

// Decide implements Router.
func (r *LLMRouter) Decide(ctx context.Context, st *team.State) (Decision, error) {
	messages := []llm.CompletionMessage{
		llm.NewSystemMessage(fmt.Sprintf(routerSystemPrompt, r.catalog())),
		llm.NewUserMessage(r.transcript(st)),
	}

	resp, err := r.client.Complete(ctx, llm.NewCompletionRequest(messages))
	if err != nil {
		return Decision{}, fmt.Errorf("routing decision failed: %w", err)
	}

	decision, err := parseDecision(resp.Content)
	if err != nil {
		r.logger.Warn("thread %s unparseable routing decision %q: %v", st.ThreadID, resp.Content, err)
		return Decision{Next: team.Terminal, Reasoning: "routing decision was unparseable"}, nil
	}
	return decision, nil
}

// catalog renders the specialist menu for the system prompt.
func (r *LLMRouter) catalog() string {
	var b strings.Builder
	for _, name := range r.names {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	return b.String()
}

// transcript renders the conversation for the router, dropping the oldest
// messages when the rendered context exceeds the token budget. The first
// (user) message is always kept.
func (r *LLMRouter) transcript(st *team.State) string {
	render := func(msgs []team.Message) string {
		var b strings.Builder
		fmt.Fprintf(&b, "Contributors so far: %s\n\n", strings.Join(st.Contributors, ", "))
		for i := range msgs {
			msg := &msgs[i]
			who := string(msg.Role)
			if msg.Specialist != "" {
				who = msg.Specialist
			}
			fmt.Fprintf(&b, "[%s] %s\n", who, msg.Content)
		}
		return b.String()
	}

	msgs := st.Messages
	out := render(msgs)
	if r.counter == nil || r.budget <= 0 {
		return out
	}
	for len(msgs) > 1 && r.counter.Count(out) > r.budget {
		msgs = append([]team.Message{msgs[0]}, msgs[2:]...)
		out = render(msgs)
	}
	return out
}

// parseDecision extracts the JSON decision object, tolerating surrounding
// prose and markdown fences.
func parseDecision(content string) (Decision, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Decision{}, fmt.Errorf("no JSON object in routing response")
	}

	var decision Decision
	if err := json.Unmarshal([]byte(content[start:end+1]), &decision); err != nil {
		return Decision{}, fmt.Errorf("malformed routing decision: %w", err)
	}
	if decision.Next == "" {
		return Decision{}, fmt.Errorf("routing decision named no specialist")
	}
	return decision, nil
}
