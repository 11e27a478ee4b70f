package healthprobe

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// ReadinessCheck reports whether the engine can serve work. The message
// explains a negative answer.
type ReadinessCheck func() (ok bool, message string)

// HealthChecker provides health and readiness checks.
type HealthChecker struct {
	startTime time.Time
	ready     atomic.Bool

	mu    sync.RWMutex
	check ReadinessCheck
}

// New creates a new HealthChecker.
func New() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
	}
}

// SetReady marks the application as started.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// SetCheck installs a readiness check consulted after the application has
// started, e.g. "at least one exchange is healthy".
func (h *HealthChecker) SetCheck(check ReadinessCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.check = check
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Message string `json:"message,omitempty"`
}

// Health returns an HTTP handler for liveness checks.
// Always returns 200 OK if the application is running.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := time.Since(h.startTime)
		writeJSON(w, http.StatusOK, HealthResponse{
			Status: "healthy",
			Uptime: uptime.String(),
		})
	}
}

// Ready returns an HTTP handler for readiness checks.
// Returns 200 OK if ready, 503 Service Unavailable if not.
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:  "not_ready",
				Message: "application is starting",
			})
			return
		}

		h.mu.RLock()
		check := h.check
		h.mu.RUnlock()

		if check != nil {
			if ok, msg := check(); !ok {
				writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
					Status:  "not_ready",
					Message: msg,
				})
				return
			}
		}

		uptime := time.Since(h.startTime)
		writeJSON(w, http.StatusOK, HealthResponse{
			Status: "ready",
			Uptime: uptime.String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
