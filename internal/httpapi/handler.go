package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"qms/queue-dashboard/internal/analytics"
	"qms/queue-dashboard/internal/engine"
	"qms/queue-dashboard/internal/store"
)

// Analytics is the aggregator surface the handler needs.
type Analytics interface {
	Snapshot(ctx context.Context, queueID string, window int) (analytics.Snapshot, error)
}

type Handler struct {
	engine    *engine.Engine
	analytics Analytics
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(e *engine.Engine, a Analytics) *Handler {
	return &Handler{engine: e, analytics: a}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/queues", h.handleQueues)
	mux.HandleFunc("/api/queues/", h.handleQueueRoutes)
	mux.HandleFunc("/api/tokens/", h.handleTokenRoutes)
	mux.HandleFunc("/api/service-types/", h.handleServiceTypeRoutes)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// pathParts splits what follows prefix into non-empty segments.
func pathParts(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func requestID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func managerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Manager-ID"))
}

// decodeBody decodes a JSON body strictly. An empty body is accepted when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, target interface{}, optional bool) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	writeError(w, requestID(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrQueueNotFound):
		return http.StatusNotFound, "queue_not_found", "queue not found"
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "token not found"
	case errors.Is(err, store.ErrServiceTypeNotFound):
		return http.StatusNotFound, "service_type_not_found", "service type not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusNotFound, "invalid_state", "token state does not allow this action"
	case errors.Is(err, store.ErrNoWaitingToken):
		return http.StatusNotFound, "queue_empty", "no waiting tokens"
	case errors.Is(err, store.ErrQueuePaused):
		return http.StatusConflict, "queue_paused", "queue is paused"
	case errors.Is(err, store.ErrDailyLimitReached):
		return http.StatusConflict, "daily_limit_reached", "daily token limit reached"
	case errors.Is(err, store.ErrStaleOrder):
		return http.StatusConflict, "stale_order", "order does not match the waiting tokens"
	case errors.Is(err, store.ErrHeadChanged):
		return http.StatusConflict, "head_changed", "token is no longer at the head of the queue"
	}
	switch store.KindOf(err) {
	case store.KindValidation:
		return http.StatusBadRequest, "invalid_request", err.Error()
	case store.KindTimeout:
		return http.StatusGatewayTimeout, "timeout", "operation timed out"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
