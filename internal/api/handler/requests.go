package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/api/response"
	"github.com/zonewatch/zonewatch/internal/gateway"
	"github.com/zonewatch/zonewatch/internal/geofence"
)

// RequestHandler answers geofence requests.
type RequestHandler struct {
	workflow RequestWorkflow
	logger   zerolog.Logger
}

func NewRequestHandler(workflow RequestWorkflow, logger zerolog.Logger) *RequestHandler {
	return &RequestHandler{workflow: workflow, logger: logger.With().Str("handler", "requests").Logger()}
}

// Accept handles POST /v1/requests/{id}/accept.
func (h *RequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.workflow.Accept)
}

// Decline handles POST /v1/requests/{id}/decline.
func (h *RequestHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.workflow.Decline)
}

// answer writes the workflow Result. Success is 200, a backend rejection 409 and a
// transient backend failure 502; the body is the Result in every case.
func (h *RequestHandler) answer(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (geofence.Result, error)) {
	id := chi.URLParam(r, "id")

	result, err := fn(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, geofence.ErrEmptyRequestID):
			response.BadRequest(w, r, err.Error(), nil)
		case gateway.IsKind(err, gateway.KindAuthExpired):
			response.Unauthorized(w, r, "session expired, sign in again")
		default:
			h.logger.Error().Err(err).Str("request_id", id).Msg("answer geofence request")
			response.InternalError(w, r, "failed to answer request")
		}
		return
	}

	status := http.StatusOK
	switch {
	case result.Success:
	case result.Retryable:
		status = http.StatusBadGateway
	default:
		status = http.StatusConflict
	}
	response.JSON(w, r, status, result)
}
