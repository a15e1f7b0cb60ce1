// Package health serves a readiness summary derived from circuit breaker
// state. The probe never calls any upstream model.
package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"ensemble/pkg/resilience/circuit"
)

// Overall status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ModelHealth is the reported condition of one upstream model.
type ModelHealth struct {
	Model        string  `json:"model"`
	State        string  `json:"state"`
	Gauge        float64 `json:"gauge"`
	FailureCount int     `json:"failure_count"`
}

// Report is the /healthz response body.
type Report struct {
	Status    string        `json:"status"`
	Models    []ModelHealth `json:"models"`
	Timestamp time.Time     `json:"timestamp"`
}

// Handler reports readiness from a breaker registry.
type Handler struct {
	registry *circuit.Registry
}

// NewHandler creates a health handler over the given registry.
func NewHandler(registry *circuit.Registry) *Handler {
	return &Handler{registry: registry}
}

// Evaluate builds the current health report. Status is degraded when any
// breaker is half-open or exactly one is open, and unhealthy when two or
// more are open.
func (h *Handler) Evaluate() Report {
	snaps := h.registry.Snapshots()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Model < snaps[j].Model })

	models := make([]ModelHealth, 0, len(snaps))
	open, halfOpen := 0, 0
	for _, snap := range snaps {
		switch snap.State {
		case circuit.Open:
			open++
		case circuit.HalfOpen:
			halfOpen++
		}
		models = append(models, ModelHealth{
			Model:        snap.Model,
			State:        snap.StateLabel,
			Gauge:        circuit.GaugeValue(snap.State),
			FailureCount: snap.FailureCount,
		})
	}

	status := StatusHealthy
	switch {
	case open >= 2:
		status = StatusUnhealthy
	case open == 1 || halfOpen > 0:
		status = StatusDegraded
	}

	return Report{
		Status:    status,
		Models:    models,
		Timestamp: time.Now().UTC(),
	}
}

// ServeHTTP implements http.Handler. Unhealthy reports get a 503 so load
// balancers stop routing; degraded still serves traffic.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	report := h.Evaluate()

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}
