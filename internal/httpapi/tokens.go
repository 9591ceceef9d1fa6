package httpapi

import (
	"net/http"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/store"
)

type moveRequest struct {
	Position int `json:"position"`
}

type updateServiceTypeRequest struct {
	Name                     *string `json:"name"`
	Description              *string `json:"description"`
	EstimatedDurationMinutes *int    `json:"estimated_duration_minutes"`
	IsActive                 *bool   `json:"is_active"`
}

func (h *Handler) handleTokenRoutes(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/tokens/")
	switch {
	case len(parts) == 1:
		h.handleTokenStatus(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		h.handleTokenAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleTokenStatus(w http.ResponseWriter, r *http.Request, tokenID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status, err := h.engine.LookupToken(r.Context(), tokenID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleTokenAction(w http.ResponseWriter, r *http.Request, tokenID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var (
		token models.Token
		err   error
	)
	switch action {
	case "start":
		token, err = h.engine.StartServing(r.Context(), tokenID)
	case "serve":
		token, err = h.engine.ServeToken(r.Context(), tokenID)
	case "cancel":
		token, err = h.engine.CancelToken(r.Context(), tokenID)
	case "no-show":
		token, err = h.engine.MarkNoShow(r.Context(), tokenID)
	case "move":
		var req moveRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if err := h.engine.MoveToken(r.Context(), tokenID, req.Position); err != nil {
			writeEngineError(w, r, err)
			return
		}
		status, err := h.engine.LookupToken(r.Context(), tokenID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status.Token)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleServiceTypeRoutes(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/service-types/")
	if len(parts) != 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	serviceTypeID := parts[0]

	switch r.Method {
	case http.MethodPut:
		var req updateServiceTypeRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		serviceType, err := h.engine.UpdateServiceType(r.Context(), store.ServiceTypeUpdate{
			ServiceTypeID:            serviceTypeID,
			Name:                     req.Name,
			Description:              req.Description,
			EstimatedDurationMinutes: req.EstimatedDurationMinutes,
			IsActive:                 req.IsActive,
		})
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, serviceType)
	case http.MethodDelete:
		serviceType, err := h.engine.DeactivateServiceType(r.Context(), serviceTypeID)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, serviceType)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
