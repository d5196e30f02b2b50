package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"bitespeed/internal/models"
	"bitespeed/internal/service"
)

// Identifier resolves a request into a consolidated identity.
type Identifier interface {
	Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error)
}

// IdentifyHandler handles the /identify endpoint
type IdentifyHandler struct {
	service Identifier
	logger  *slog.Logger
}

// NewIdentifyHandler creates a new identify handler
func NewIdentifyHandler(svc Identifier, logger *slog.Logger) *IdentifyHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &IdentifyHandler{
		service: svc,
		logger:  logger,
	}
}

// Handle processes the identify request
func (h *IdentifyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var payload identifyPayload
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		h.logger.InfoContext(r.Context(), "rejecting malformed identify body", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Validation failed",
			Details: []string{"Invalid JSON"},
		})
		return
	}

	req, problems := payload.validate()
	if len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Validation failed",
			Details: problems,
		})
		return
	}

	response, err := h.service.Identify(r.Context(), req)
	if err != nil && !service.IsInternal(err) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Validation failed",
			Details: []string{err.Error()},
		})
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "identify failed",
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, response)
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
