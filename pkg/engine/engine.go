// Package engine implements the routing state machine: the turn loop that
// selects specialists, honors self-retries and handoffs, and terminates.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ensemble/pkg/cache"
	"ensemble/pkg/checkpoint"
	"ensemble/pkg/logx"
	"ensemble/pkg/metrics"
	"ensemble/pkg/resilience"
	"ensemble/pkg/team"
	"ensemble/pkg/tokens"
)

// DefaultMaxTurns bounds worst-case cost from a misbehaving routing policy.
const DefaultMaxTurns = 12

// Config holds turn-loop tunables.
type Config struct {
	// MaxTurns is the hard ceiling on state transitions per turn. The
	// machine terminates when TurnCount reaches it regardless of what the
	// router returns.
	MaxTurns int
}

// Decision is a routing decision. Reasoning is advisory and log-only; it is
// never parsed for control flow.
type Decision struct {
	Next      string `json:"next"`
	Reasoning string `json:"reasoning"`
}

// Router picks the next specialist (or the terminal sentinel) from the
// accumulated conversation state.
type Router interface {
	Decide(ctx context.Context, st *team.State) (Decision, error)
}

// Checkpointer persists state snapshots between transitions. Saves are
// best-effort; the engine logs and continues on error.
type Checkpointer interface {
	Save(ctx context.Context, st *team.State) error
}

// Engine drives one conversation turn at a time. All collaborators are
// injected at construction; the engine holds no global state, so concurrent
// turns on separate states are safe.
type Engine struct {
	config      Config
	router      Router
	specialists *team.Registry
	caller      *resilience.Caller
	cache       *cache.SemanticCache
	checkpoints Checkpointer
	counter     *tokens.Counter
	recorder    metrics.Recorder
	logger      *logx.Logger
}

// Options carries the optional collaborators for New.
type Options struct {
	Cache       *cache.SemanticCache // nil disables caching
	Checkpoints Checkpointer         // nil disables checkpointing
	Counter     *tokens.Counter      // nil disables token accounting
	Recorder    metrics.Recorder     // nil uses the no-op recorder
}

// New constructs an engine. Router, registry and caller are required.
func New(config Config, router Router, specialists *team.Registry, caller *resilience.Caller, opts Options) (*Engine, error) {
	if router == nil {
		return nil, fmt.Errorf("engine requires a router")
	}
	if specialists == nil {
		return nil, fmt.Errorf("engine requires a specialist registry")
	}
	if caller == nil {
		return nil, fmt.Errorf("engine requires a resilient caller")
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultMaxTurns
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Engine{
		config:      config,
		router:      router,
		specialists: specialists,
		caller:      caller,
		cache:       opts.Cache,
		checkpoints: opts.Checkpoints,
		counter:     opts.Counter,
		recorder:    recorder,
		logger:      logx.NewLogger("engine"),
	}, nil
}

// ExecuteTurn runs the state machine until the terminal sentinel or the
// turn ceiling. The returned state always carries whatever partial result
// exists; only context cancellation produces a non-nil error.
func (e *Engine) ExecuteTurn(ctx context.Context, st *team.State) (*team.State, error) {
	start := time.Now()
	steps := 0
	defer func() {
		e.recorder.ObserveTurn(time.Since(start), steps)
	}()

	if st.AgentRetries == nil {
		st.AgentRetries = make(map[string]int)
	}
	if st.Next == "" {
		st.Next = team.RouterName
	}

	for st.Next != team.Terminal {
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("turn %s cancelled: %w", st.ThreadID, err)
		}
		if st.TurnCount >= e.config.MaxTurns {
			e.logger.Warn("thread %s hit the turn ceiling (%d); forcing termination", st.ThreadID, e.config.MaxTurns)
			st.Next = team.Terminal
			break
		}

		if st.Next == team.RouterName {
			e.routeStep(ctx, st)
		} else if err := e.specialistStep(ctx, st); err != nil {
			return st, err
		}

		st.TurnCount++
		steps++
		e.checkpointStep(ctx, st)
	}

	return st, nil
}

// routeStep asks the router for the next specialist. A router failure or an
// unknown target terminates the turn with whatever partial result exists.
func (e *Engine) routeStep(ctx context.Context, st *team.State) {
	decision, err := e.router.Decide(ctx, st)
	if err != nil {
		e.logger.Error("thread %s router failed: %v", st.ThreadID, err)
		st.Next = team.Terminal
		return
	}

	e.logger.Debug("thread %s router chose %q: %s", st.ThreadID, decision.Next, decision.Reasoning)

	switch {
	case decision.Next == team.Terminal:
		st.Next = team.Terminal
	case e.specialists.Has(decision.Next):
		st.Next = decision.Next
	default:
		e.logger.Warn("thread %s router named unknown specialist %q; terminating", st.ThreadID, decision.Next)
		st.Next = team.Terminal
	}
}

// specialistStep runs the specialist st.Next currently names, folds its
// delta into the state, and applies the transition rules:
//  1. needsRetry self-loops the same specialist, up to its budget.
//  2. A valid handoff target transfers control directly for one hop.
//  3. Otherwise control returns to the router.
func (e *Engine) specialistStep(ctx context.Context, st *team.State) error {
	sp := e.specialists.Get(st.Next)
	if sp == nil {
		// Registry validation makes this unreachable from handoffs; guard
		// against corrupted restored state.
		e.logger.Warn("thread %s has unknown specialist %q in next; returning to router", st.ThreadID, st.Next)
		st.Next = team.RouterName
		return nil
	}

	query := st.LastMessage().Content

	delta, fromCache := e.cachedDelta(ctx, sp, query)
	if !fromCache {
		var err error
		delta, err = e.caller.Execute(ctx, sp.Name, sp.Fallback, func(ctx context.Context) (team.Delta, error) {
			return sp.Run(ctx, st)
		})
		if err != nil {
			return err
		}
		e.storeResult(ctx, sp, query, delta)
	}

	e.accountTokens(sp.Name, query, delta)

	team.Merge(st, delta)

	switch {
	case st.NeedsRetry:
		st.NeedsRetry = false
		used := st.AgentRetries[sp.Name]
		if used < sp.MaxSelfRetries() {
			st.AgentRetries[sp.Name] = used + 1
			st.Next = sp.Name
			e.logger.Debug("thread %s specialist %s self-retry %d/%d", st.ThreadID, sp.Name, used+1, sp.MaxSelfRetries())
			return nil
		}
		// Budget exhausted: treated as a normal failure, attributed in the
		// transcript, with control back at the router.
		msg := fmt.Sprintf("The %s specialist exhausted its retry budget (%d attempts).", sp.Name, sp.MaxSelfRetries())
		team.Merge(st, team.Delta{
			Messages:     []team.Message{team.NewSpecialistMessage(sp.Name, msg)},
			Contributors: []string{sp.Name},
			LastError:    msg,
		})
		st.Next = team.RouterName

	case st.Next != "" && st.Next != team.RouterName && st.Next != sp.Name:
		if st.Next == team.Terminal {
			return nil
		}
		// Handoff targets from model output are untrusted free text: the
		// target must exist and be on the specialist's declared allowlist.
		switch {
		case !e.specialists.Has(st.Next):
			e.logger.Warn("thread %s specialist %s handed off to unknown %q; returning to router", st.ThreadID, sp.Name, st.Next)
			st.Next = team.RouterName
		case !sp.CanHandOff(st.Next):
			e.logger.Warn("thread %s specialist %s handed off to undeclared %q; returning to router", st.ThreadID, sp.Name, st.Next)
			st.Next = team.RouterName
		}

	default:
		st.Next = team.RouterName
	}

	return nil
}

// cachedDelta answers the specialist from the semantic cache when possible.
// The cached payload is the specialist's response text.
func (e *Engine) cachedDelta(ctx context.Context, sp *team.Specialist, query string) (team.Delta, bool) {
	if e.cache == nil || !sp.Cacheable || query == "" {
		return team.Delta{}, false
	}

	raw, ok := e.cache.Get(ctx, sp.Name, query)
	if !ok {
		return team.Delta{}, false
	}

	var content string
	if err := json.Unmarshal(raw, &content); err != nil {
		e.logger.Warn("specialist %s cache entry undecodable: %v", sp.Name, err)
		return team.Delta{}, false
	}

	return team.Delta{
		Messages:     []team.Message{team.NewSpecialistMessage(sp.Name, content)},
		Contributors: []string{sp.Name},
	}, true
}

// storeResult caches a successful specialist response. Fallback responses
// (LastError set) are never cached.
func (e *Engine) storeResult(ctx context.Context, sp *team.Specialist, query string, delta team.Delta) {
	if e.cache == nil || !sp.Cacheable || query == "" || delta.LastError != "" {
		return
	}
	if len(delta.Messages) == 0 {
		return
	}

	content := delta.Messages[len(delta.Messages)-1].Content
	raw, err := json.Marshal(content)
	if err != nil {
		return
	}
	e.cache.Set(ctx, sp.Name, query, raw, sp.Model)
}

// accountTokens records approximate prompt and response token counts.
func (e *Engine) accountTokens(specialist, query string, delta team.Delta) {
	if e.counter == nil {
		return
	}
	if query != "" {
		e.recorder.AddTokens(specialist, "prompt", e.counter.Count(query))
	}
	response := 0
	for i := range delta.Messages {
		response += e.counter.Count(delta.Messages[i].Content)
	}
	if response > 0 {
		e.recorder.AddTokens(specialist, "response", response)
	}
}

// checkpointStep saves the state snapshot, best-effort.
func (e *Engine) checkpointStep(ctx context.Context, st *team.State) {
	if e.checkpoints == nil {
		return
	}
	if err := e.checkpoints.Save(ctx, st); err != nil {
		e.logger.Warn("thread %s checkpoint save failed: %v", st.ThreadID, err)
	}
}

var _ Checkpointer = (*checkpoint.Store)(nil)
