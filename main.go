// Command ensemble runs the agent-orchestration engine: an HTTP surface over
// the routing state machine, with semantic caching, per-model circuit
// breaking, and resilient specialist calls.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"ensemble/pkg/cache"
	"ensemble/pkg/checkpoint"
	"ensemble/pkg/config"
	"ensemble/pkg/embed"
	"ensemble/pkg/engine"
	"ensemble/pkg/health"
	"ensemble/pkg/llm"
	"ensemble/pkg/llm/anthropic"
	"ensemble/pkg/llm/gemini"
	"ensemble/pkg/llm/ollamaclient"
	"ensemble/pkg/llm/openaiofficial"
	"ensemble/pkg/logx"
	"ensemble/pkg/metrics"
	"ensemble/pkg/resilience"
	"ensemble/pkg/resilience/circuit"
	"ensemble/pkg/team"
	"ensemble/pkg/tokens"
)

// Server boot failure exit code.
const exitBootFailure = 1

// app bundles the wired collaborators for the HTTP surface.
type app struct {
	cfg         *config.Config
	engine      *engine.Engine
	checkpoints *checkpoint.Store
	semCache    *cache.SemanticCache
	usage       *metrics.QueryService
	logger      *logx.Logger
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "ensemble.yaml", "Path to config file")
	flag.Parse()

	logger := logx.NewLogger("main")

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config: %v", err)
		os.Exit(exitBootFailure)
	}

	a, cleanup, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("boot failed: %v", err)
		os.Exit(exitBootFailure)
	}
	defer cleanup()

	if err := a.serve(); err != nil {
		logger.Error("server failed: %v", err)
		os.Exit(exitBootFailure)
	}
}

// buildApp wires the full dependency graph from config.
func buildApp(cfg *config.Config, logger *logx.Logger) (*app, func(), error) {
	secrets := config.NewSecrets()
	if config.SecretsFileExists(cfg.DataDir) {
		if password := os.Getenv("ENSEMBLE_PASSWORD"); password != "" {
			if err := secrets.LoadFromFile(cfg.DataDir, password); err != nil {
				return nil, nil, fmt.Errorf("failed to decrypt secrets: %w", err)
			}
		}
	}

	recorder := metrics.NewPrometheusRecorder(prometheus.DefaultRegisterer)
	breakers := circuit.NewRegistry(circuit.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		CoolDown:         cfg.Breaker.CoolDown.Std(),
	})
	caller := resilience.NewCaller(resilience.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Std(),
	}, recorder)

	checkpoints, err := checkpoint.Open(cfg.Checkpoint.Path)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = checkpoints.Close() }

	semCache, err := buildCache(cfg, secrets, recorder)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	counter, err := tokens.NewCounter(cfg.Engine.Router.Model)
	if err != nil {
		logger.Warn("token counter unavailable, falling back to estimates: %v", err)
	}

	specialists, err := buildSpecialists(cfg, secrets, breakers, recorder)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	routerClient, err := buildClient(cfg, secrets, cfg.Engine.Router.Provider, cfg.Engine.Router.Model)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	// Metrics outermost so circuit rejections are observed too.
	routerClient = llm.Chain(routerClient,
		metrics.Middleware(recorder, team.RouterName),
		circuit.Middleware(breakers.ForModel(cfg.Engine.Router.Model), recorder),
	)
	router := engine.NewLLMRouter(routerClient, specialists.Names(), counter, cfg.Engine.ContextTokenBudget)

	eng, err := engine.New(engine.Config{MaxTurns: cfg.Engine.MaxTurns}, router, specialists, caller, engine.Options{
		Cache:       semCache,
		Checkpoints: checkpoints,
		Counter:     counter,
		Recorder:    recorder,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	a := &app{
		cfg:         cfg,
		engine:      eng,
		checkpoints: checkpoints,
		semCache:    semCache,
		logger:      logger,
	}

	http.Handle("/metrics", promhttp.Handler())
	http.Handle("/healthz", health.NewHandler(breakers))
	http.HandleFunc("/v1/turn", a.handleTurn)
	http.HandleFunc("/v1/cache/clear", a.handleCacheClear)

	if cfg.Metrics.PrometheusURL != "" {
		usage, err := metrics.NewQueryService(cfg.Metrics.PrometheusURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		a.usage = usage
		http.HandleFunc("/v1/usage", a.handleUsage)
	}

	return a, cleanup, nil
}

// buildCache assembles the semantic cache from the configured backend and
// embedder.
func buildCache(cfg *config.Config, secrets *config.Secrets, recorder metrics.Recorder) (*cache.SemanticCache, error) {
	var store cache.Store
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		rs := cache.NewRedisStore(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rs.Ping(context.Background()); err != nil {
			return nil, fmt.Errorf("redis cache backend unreachable: %w", err)
		}
		store = rs
	default:
		store = cache.NewMemoryStore()
	}

	var embedder embed.Provider
	switch cfg.Cache.Embedder {
	case config.EmbedderOpenAI:
		key, err := secrets.Get("OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		embedder = embed.NewOpenAIProvider(key, cfg.Cache.EmbedModel)
	case config.EmbedderOllama:
		embedder = embed.NewOllamaProvider(cfg.Ollama.HostURL, cfg.Cache.EmbedModel)
	default:
		embedder = embed.Disabled{}
	}

	ttls := make(map[string]time.Duration, len(cfg.Cache.TTLBySpecialist))
	for name, d := range cfg.Cache.TTLBySpecialist {
		ttls[name] = d.Std()
	}

	return cache.New(store, embedder, recorder, cache.Config{
		Enabled:             cfg.Cache.Enabled,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		DefaultTTL:          cfg.Cache.DefaultTTL.Std(),
		TTLBySpecialist:     ttls,
		NonCacheable:        cfg.Cache.NonCacheable,
	}), nil
}

// buildClient constructs the raw provider client for one model.
func buildClient(cfg *config.Config, secrets *config.Secrets, provider, model string) (llm.LLMClient, error) {
	switch provider {
	case config.ProviderAnthropic:
		key, err := secrets.Get("ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		return anthropic.NewClient(key, model), nil
	case config.ProviderOpenAI:
		key, err := secrets.Get("OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		return openaiofficial.NewClient(key, model), nil
	case config.ProviderGemini:
		key, err := secrets.Get("GEMINI_API_KEY")
		if err != nil {
			return nil, err
		}
		return gemini.NewClient(key, model), nil
	case config.ProviderOllama:
		return ollamaclient.NewClient(cfg.Ollama.HostURL, model), nil
	default:
		return nil, fmt.Errorf("provider %q is not supported", provider)
	}
}

// buildSpecialists constructs the validated specialist registry, one chained
// model client per specialist.
func buildSpecialists(cfg *config.Config, secrets *config.Secrets, breakers *circuit.Registry, recorder metrics.Recorder) (*team.Registry, error) {
	specialists := make([]*team.Specialist, 0, len(cfg.Specialists))
	for i := range cfg.Specialists {
		sc := &cfg.Specialists[i]

		client, err := buildClient(cfg, secrets, sc.Provider, sc.Model)
		if err != nil {
			return nil, fmt.Errorf("specialist %q: %w", sc.Name, err)
		}
		client = llm.Chain(client,
			metrics.Middleware(recorder, sc.Name),
			circuit.Middleware(breakers.ForModel(sc.Model), recorder),
		)

		specialists = append(specialists, &team.Specialist{
			Name:        sc.Name,
			Model:       sc.Model,
			Run:         engine.NewLLMUnitOfWork(sc.Name, sc.Prompt, client),
			Cacheable:   sc.Cacheable,
			SelfRetries: sc.SelfRetries,
			Handoffs:    sc.Handoffs,
			Fallback:    sc.Fallback,
		})
	}
	return team.NewRegistry(specialists...)
}

// turnRequest is the /v1/turn request body.
type turnRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Input    string `json:"input"`
	Resume   bool   `json:"resume,omitempty"`
}

// turnResponse is the /v1/turn response body.
type turnResponse struct {
	ThreadID     string         `json:"thread_id"`
	Messages     []team.Message `json:"messages"`
	Contributors []string       `json:"contributors"`
	TurnCount    int            `json:"turn_count"`
}

// handleTurn runs one conversation turn to completion.
func (a *app) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	st := team.NewState(req.ThreadID, req.Input)
	if req.Resume {
		if prev, err := a.checkpoints.Load(r.Context(), req.ThreadID); err == nil {
			prev.Messages = append(prev.Messages, team.NewUserMessage(req.Input))
			prev.Next = team.RouterName
			st = prev
		} else if !errors.Is(err, checkpoint.ErrNotFound) {
			a.logger.Warn("thread %s resume failed: %v", req.ThreadID, err)
		}
	}

	st, err := a.engine.ExecuteTurn(r.Context(), st)
	if err != nil {
		// Only cancellation surfaces here.
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(turnResponse{
		ThreadID:     st.ThreadID,
		Messages:     st.Messages,
		Contributors: st.Contributors,
		TurnCount:    st.TurnCount,
	})
}

// handleCacheClear is the administrative cache invalidation endpoint.
// ?specialist=<name> scopes the purge; omitted clears everything.
func (a *app) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.semCache == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := a.semCache.Clear(r.Context(), r.URL.Query().Get("specialist")); err != nil {
		http.Error(w, "cache clear failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUsage reports aggregated token usage for one specialist, queried
// back out of Prometheus.
func (a *app) handleUsage(w http.ResponseWriter, r *http.Request) {
	specialist := r.URL.Query().Get("specialist")
	if specialist == "" {
		http.Error(w, "specialist is required", http.StatusBadRequest)
		return
	}

	usage, err := a.usage.GetSpecialistUsage(r.Context(), specialist)
	if err != nil {
		a.logger.Warn("usage query failed: %v", err)
		http.Error(w, "usage query failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(usage)
}

// serve runs the HTTP server until SIGINT/SIGTERM, then drains.
func (a *app) serve() error {
	server := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening on %s", a.cfg.Server.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.logger.Info("received signal %v, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}
