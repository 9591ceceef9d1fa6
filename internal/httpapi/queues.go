package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/queue-dashboard/internal/engine"
	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/store"
)

type createQueueRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type addTokenRequest struct {
	PersonName    string `json:"person_name"`
	ContactNumber string `json:"contact_number"`
	ServiceTypeID string `json:"service_type_id"`
	PriorityLevel int    `json:"priority_level"`
}

type settingsRequest struct {
	IsPaused              *bool   `json:"is_paused"`
	PauseReason           *string `json:"pause_reason"`
	AutoServeEnabled      *bool   `json:"auto_serve_enabled"`
	AutoServeMinutes      *int    `json:"auto_serve_minutes"`
	PriorityLevelsEnabled *bool   `json:"priority_levels_enabled"`
	MaxTokensPerDay       *int    `json:"max_tokens_per_day"`
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

type reorderRequest struct {
	TokenIDs []string `json:"token_ids"`
}

type serviceTypeRequest struct {
	Name                     string `json:"name"`
	Description              string `json:"description"`
	EstimatedDurationMinutes int    `json:"estimated_duration_minutes"`
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		queues, err := h.engine.ListQueues(r.Context(), managerID(r))
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, queues)
	case http.MethodPost:
		var req createQueueRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		queue, err := h.engine.CreateQueue(r.Context(), managerID(r), req.Name, req.Description)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, queue)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleQueueRoutes(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/queues/")
	if len(parts) == 0 || len(parts) > 3 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	queueID := parts[0]
	if len(parts) == 1 {
		h.handleQueue(w, r, queueID)
		return
	}
	if len(parts) == 3 {
		if parts[1] == "tokens" && parts[2] == "reorder" {
			h.handleReorder(w, r, queueID)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "settings":
		h.handleSettings(w, r, queueID)
	case "pause":
		h.handlePause(w, r, queueID)
	case "resume":
		h.handleResume(w, r, queueID)
	case "tokens":
		h.handleQueueTokens(w, r, queueID)
	case "serve-next":
		h.handleServeNext(w, r, queueID)
	case "display":
		h.handleDisplay(w, r, queueID)
	case "events":
		h.handleEvents(w, r, queueID)
	case "analytics":
		h.handleAnalytics(w, r, queueID)
	case "service-types":
		h.handleQueueServiceTypes(w, r, queueID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	queue, err := h.engine.GetQueue(r.Context(), queueID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request, queueID string) {
	switch r.Method {
	case http.MethodGet:
		settings, err := h.engine.Settings(r.Context(), queueID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req settingsRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		settings, err := h.engine.UpdateSettings(r.Context(), queueID, store.SettingsUpdate{
			IsPaused:              req.IsPaused,
			PauseReason:           req.PauseReason,
			AutoServeEnabled:      req.AutoServeEnabled,
			AutoServeMinutes:      req.AutoServeMinutes,
			PriorityLevelsEnabled: req.PriorityLevelsEnabled,
			MaxTokensPerDay:       req.MaxTokensPerDay,
		})
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req pauseRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	settings, err := h.engine.PauseQueue(r.Context(), queueID, req.Reason)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	settings, err := h.engine.ResumeQueue(r.Context(), queueID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleQueueTokens(w http.ResponseWriter, r *http.Request, queueID string) {
	switch r.Method {
	case http.MethodGet:
		statuses, ok := parseStatuses(r.URL.Query().Get("status"))
		if !ok {
			writeError(w, requestID(r), http.StatusBadRequest, "invalid_request", "status must list known token statuses")
			return
		}
		tokens, err := h.engine.Tokens(r.Context(), queueID, statuses...)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tokens)
	case http.MethodPost:
		var req addTokenRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		token, err := h.engine.AddToken(r.Context(), queueID, engine.AddTokenRequest{
			PersonName:    req.PersonName,
			ContactNumber: req.ContactNumber,
			ServiceTypeID: req.ServiceTypeID,
			PriorityLevel: req.PriorityLevel,
		})
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, token)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// parseStatuses reads a comma separated status filter. Empty means waiting;
// "all" lifts the filter.
func parseStatuses(raw string) ([]string, bool) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return []string{models.StatusWaiting}, true
	case "all":
		return nil, true
	}
	var statuses []string
	for _, item := range strings.Split(raw, ",") {
		status := strings.TrimSpace(item)
		if !models.ValidStatus(status) {
			return nil, false
		}
		statuses = append(statuses, status)
	}
	return statuses, true
}

func (h *Handler) handleReorder(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req reorderRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if err := h.engine.ReorderTokens(r.Context(), queueID, req.TokenIDs); err != nil {
		writeEngineError(w, r, err)
		return
	}
	tokens, err := h.engine.WaitingTokens(r.Context(), queueID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleServeNext(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token, err := h.engine.ServeNext(r.Context(), queueID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	display, err := h.engine.Display(r.Context(), queueID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, display)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := store.EventQuery{QueueID: queueID, Limit: 500}
	values := r.URL.Query()
	for key, target := range map[string]*time.Time{"from": &query.From, "to": &query.To} {
		raw := strings.TrimSpace(values.Get(key))
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, requestID(r), http.StatusBadRequest, "invalid_request", key+" must be RFC3339 timestamp")
			return
		}
		*target = parsed
	}
	if raw := strings.TrimSpace(values.Get("type")); raw != "" {
		for _, item := range strings.Split(raw, ",") {
			query.Types = append(query.Types, strings.TrimSpace(item))
		}
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, requestID(r), http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		query.Limit = limit
	}

	events, err := h.engine.Events(r.Context(), query)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.analytics == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	window := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, requestID(r), http.StatusBadRequest, "invalid_request", "window must be a positive number of days")
			return
		}
		window = parsed
	}
	snapshot, err := h.analytics.Snapshot(r.Context(), queueID, window)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleQueueServiceTypes(w http.ResponseWriter, r *http.Request, queueID string) {
	switch r.Method {
	case http.MethodGet:
		includeInactive := r.URL.Query().Get("include_inactive") == "true"
		serviceTypes, err := h.engine.ServiceTypes(r.Context(), queueID, includeInactive)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, serviceTypes)
	case http.MethodPost:
		var req serviceTypeRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		serviceType, err := h.engine.CreateServiceType(r.Context(), queueID, engine.ServiceTypeRequest{
			Name:                     req.Name,
			Description:              req.Description,
			EstimatedDurationMinutes: req.EstimatedDurationMinutes,
		})
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, serviceType)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
