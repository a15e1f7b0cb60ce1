package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// SpecialistUsage aggregates token usage for one specialist.
type SpecialistUsage struct {
	Specialist     string `json:"specialist"`
	PromptTokens   int64  `json:"prompt_tokens"`
	ResponseTokens int64  `json:"response_tokens"`
	TotalTokens    int64  `json:"total_tokens"`
}

// QueryService queries aggregated metrics back out of a Prometheus server,
// for operational reporting.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a metrics query service against the given
// Prometheus base URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetSpecialistUsage returns aggregated prompt/completion token counts for a
// specialist across all turns.
func (q *QueryService) GetSpecialistUsage(ctx context.Context, specialist string) (*SpecialistUsage, error) {
	usage := &SpecialistUsage{Specialist: specialist}

	prompt, err := q.sum(ctx, fmt.Sprintf(`sum(specialist_tokens_total{specialist=%q, type="prompt"})`, specialist))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	usage.PromptTokens = prompt

	response, err := q.sum(ctx, fmt.Sprintf(`sum(specialist_tokens_total{specialist=%q, type="response"})`, specialist))
	if err != nil {
		return nil, fmt.Errorf("failed to query response tokens: %w", err)
	}
	usage.ResponseTokens = response

	usage.TotalTokens = usage.PromptTokens + usage.ResponseTokens
	return usage, nil
}

func (q *QueryService) sum(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
