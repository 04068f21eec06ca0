package queueprocessor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/c360studio/substrate/storage"
)

func TestHandleHealth(t *testing.T) {
	queue := newFakeQueueStore()
	queue.put(&storage.QueueEntry{CaptureID: "cap-1", State: storage.StateQueued})
	queue.put(&storage.QueueEntry{CaptureID: "cap-2", State: storage.StateQueued})
	queue.put(&storage.QueueEntry{CaptureID: "cap-3", State: storage.StateCompleted})
	queue.put(&storage.QueueEntry{CaptureID: "cap-4", State: storage.StateDead})

	c := &Component{
		name:   "queue-processor",
		config: DefaultConfig(),
		logger: slog.Default(),
		queue:  queue,
	}
	c.running = true
	c.startTime = time.Now()

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("api/queue", mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/queue/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}

	if health.Status != "running" {
		t.Errorf("status = %q, want running", health.Status)
	}

	wantSequence := []string{"P0_CAPTURE", "P1_SUBSTRATE", "P2_GRAPH", "P3_REFLECTION"}
	if len(health.ProcessingSequence) != len(wantSequence) {
		t.Fatalf("sequence = %v, want %v", health.ProcessingSequence, wantSequence)
	}
	for i, want := range wantSequence {
		if health.ProcessingSequence[i] != want {
			t.Errorf("sequence[%d] = %q, want %q", i, health.ProcessingSequence[i], want)
		}
	}

	if health.States["queued"] != 2 {
		t.Errorf("queued = %d, want 2", health.States["queued"])
	}
	if health.States["completed"] != 1 {
		t.Errorf("completed = %d, want 1", health.States["completed"])
	}
	if health.States["dead"] != 1 {
		t.Errorf("dead = %d, want 1", health.States["dead"])
	}
}

func TestHandleHealth_MethodNotAllowed(t *testing.T) {
	c := &Component{
		name:   "queue-processor",
		config: DefaultConfig(),
		logger: slog.Default(),
		queue:  newFakeQueueStore(),
	}

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("api/queue", mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/queue/health", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
