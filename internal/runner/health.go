package runner

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Pinger is implemented by boards backed by a server that can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer provides the GET /healthz endpoint for a running Runner.
type HealthServer struct {
	addr   string
	pinger Pinger
	last   func() *RoundReport
	server *http.Server
}

// NewHealthServer creates a health server. A nil pinger is always connected;
// last may return nil before the first round.
func NewHealthServer(addr string, pinger Pinger, last func() *RoundReport) *HealthServer {
	return &HealthServer{
		addr:   addr,
		pinger: pinger,
		last:   last,
	}
}

// Start starts the HTTP server in the background.
func (h *HealthServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)

	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Runner] Health server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the health server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler returns 200 with the last round summary when the board
// answers a ping, 503 otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy", Board: "connected"}
	if h.last != nil {
		if report := h.last(); report != nil {
			response.LastRound = &RoundSummary{
				Round:     report.Round,
				StartedAt: report.StartedAt.UTC().Format(time.RFC3339),
				Turns:     len(report.Turns),
				Failed:    len(report.FailedTurns()),
			}
		}
	}

	status := http.StatusOK
	if h.pinger != nil {
		if err := h.pinger.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Board = "disconnected"
			response.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status    string        `json:"status"`
	Board     string        `json:"board,omitempty"`
	Error     string        `json:"error,omitempty"`
	LastRound *RoundSummary `json:"last_round,omitempty"`
}

// RoundSummary is the health view of a RoundReport.
type RoundSummary struct {
	Round     int64  `json:"round"`
	StartedAt string `json:"started_at"`
	Turns     int    `json:"turns"`
	Failed    int    `json:"failed"`
}
