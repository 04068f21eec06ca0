package queueprocessor

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/c360studio/substrate/pipeline"
)

// RegisterHTTPHandlers registers the queue health handler under the
// given prefix.
// Handlers are registered as:
//
//	GET <prefix>/health
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc(prefix+"health", c.handleHealth)
}

// HealthResponse reports queue state for operators. The processing
// sequence is fixed; exposing it makes the absence of a presentation
// stage observable.
type HealthResponse struct {
	Status             string         `json:"status"`
	ProcessingSequence []string       `json:"processing_sequence"`
	States             map[string]int `json:"states"`
}

// handleHealth returns per-state queue counts and the stage sequence.
func (c *Component) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := c.queue.Stats(r.Context())
	if err != nil {
		c.logger.Error("Failed to read queue stats", "error", err)
		http.Error(w, "Failed to read queue stats", http.StatusInternalServerError)
		return
	}

	states := make(map[string]int, len(stats))
	for state, n := range stats {
		states[string(state)] = n
	}

	sequence := make([]string, 0, len(pipeline.Sequence()))
	for _, name := range pipeline.Sequence() {
		sequence = append(sequence, string(name))
	}

	c.mu.RLock()
	running := c.running
	c.mu.RUnlock()
	status := "stopped"
	if running {
		status = "running"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:             status,
		ProcessingSequence: sequence,
		States:             states,
	})
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		_ = err
	}
}
