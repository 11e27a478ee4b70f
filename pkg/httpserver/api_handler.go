package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/mselser95/venuecoord/internal/arbitrage"
	"github.com/mselser95/venuecoord/internal/circuitbreaker"
	"github.com/mselser95/venuecoord/internal/events"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
)

// Coordinator is the engine surface exposed over HTTP.
type Coordinator interface {
	GetExchangeStatus() map[string]types.ExchangeStatus
	GetActiveStrategies() []*types.CrossExchangeGroup
	CoordinateStrategies(ctx context.Context, specs []types.StrategySpec) (*types.CrossExchangeGroup, error)
	StopStrategy(ctx context.Context, groupID string) (*events.StrategyStopped, error)
	LatestOpportunities() []*arbitrage.Opportunity
	ExecuteOpportunity(ctx context.Context, id string) (*types.ArbitrageExecution, error)
	HandleExchangeFailover(ctx context.Context, exchange string) ([]events.ExchangeFailover, error)
	CircuitBreakerStatus() (circuitbreaker.Status, bool)
}

// APIHandler serves the coordination REST API.
type APIHandler struct {
	coord  Coordinator
	logger *zap.Logger
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(coord Coordinator, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		coord:  coord,
		logger: logger,
	}
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CoordinateRequest is the body of POST /api/strategies.
type CoordinateRequest struct {
	Strategies []types.StrategySpec `json:"strategies"`
}

// ExecuteRequest is the body of POST /api/opportunities/execute.
type ExecuteRequest struct {
	ID string `json:"id"`
}

// Routes mounts the API under r.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/exchanges", h.HandleExchanges)
	r.Post("/exchanges/{name}/failover", h.HandleFailover)
	r.Get("/strategies", h.HandleListStrategies)
	r.Post("/strategies", h.HandleCoordinate)
	r.Delete("/strategies/{id}", h.HandleStopStrategy)
	r.Get("/opportunities", h.HandleOpportunities)
	r.Post("/opportunities/execute", h.HandleExecute)
	r.Get("/circuit-breaker", h.HandleCircuitBreaker)
}

// HandleCircuitBreaker handles GET /api/circuit-breaker.
func (h *APIHandler) HandleCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	status, ok := h.coord.CircuitBreakerStatus()
	if !ok {
		h.writeError(w, "circuit breaker is disabled", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// HandleExchanges handles GET /api/exchanges.
func (h *APIHandler) HandleExchanges(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.coord.GetExchangeStatus())
}

// HandleListStrategies handles GET /api/strategies.
func (h *APIHandler) HandleListStrategies(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.coord.GetActiveStrategies())
}

// HandleCoordinate handles POST /api/strategies.
func (h *APIHandler) HandleCoordinate(w http.ResponseWriter, r *http.Request) {
	var req CoordinateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	group, err := h.coord.CoordinateStrategies(r.Context(), req.Strategies)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, group)
}

// HandleStopStrategy handles DELETE /api/strategies/{id}.
func (h *APIHandler) HandleStopStrategy(w http.ResponseWriter, r *http.Request) {
	stopped, err := h.coord.StopStrategy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stopped)
}

// HandleOpportunities handles GET /api/opportunities.
func (h *APIHandler) HandleOpportunities(w http.ResponseWriter, r *http.Request) {
	opps := h.coord.LatestOpportunities()
	if opps == nil {
		opps = []*arbitrage.Opportunity{}
	}
	h.writeJSON(w, http.StatusOK, opps)
}

// HandleExecute handles POST /api/opportunities/execute.
func (h *APIHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		h.writeError(w, "request body must contain an opportunity id", http.StatusBadRequest)
		return
	}

	exec, err := h.coord.ExecuteOpportunity(r.Context(), req.ID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, exec)
}

// HandleFailover handles POST /api/exchanges/{name}/failover.
func (h *APIHandler) HandleFailover(w http.ResponseWriter, r *http.Request) {
	exchange := chi.URLParam(r, "name")
	h.logger.Warn("manual-failover-requested", zap.String("exchange", exchange))

	outcomes, err := h.coord.HandleExchangeFailover(r.Context(), exchange)
	if err != nil && outcomes == nil {
		h.writeDomainError(w, err)
		return
	}
	if outcomes == nil {
		outcomes = []events.ExchangeFailover{}
	}

	h.writeJSON(w, http.StatusOK, outcomes)
}

// statusFor maps coordination errors to HTTP status codes.
func statusFor(err error) int {
	var backendErr *types.BackendError
	switch {
	case errors.Is(err, types.ErrInvalidStrategy):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrGroupNotFound),
		errors.Is(err, types.ErrOpportunityNotFound),
		errors.Is(err, types.ErrUnknownExchange):
		return http.StatusNotFound
	case errors.Is(err, types.ErrCapacityExceeded),
		errors.Is(err, types.ErrStrategyConflict),
		errors.Is(err, types.ErrOpportunityNoLongerValid),
		errors.Is(err, types.ErrOpportunityInFlight):
		return http.StatusConflict
	case errors.Is(err, types.ErrExchangeNotAvailable),
		errors.Is(err, types.ErrNoInstanceAvailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &backendErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("api-request-failed", zap.Error(err))
	}
	h.writeError(w, err.Error(), status)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (h *APIHandler) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
