package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/breqdev/portal-bridge-go/internal/errors"
	"github.com/breqdev/portal-bridge-go/internal/httputil"
	"github.com/breqdev/portal-bridge-go/internal/middleware"
	"github.com/breqdev/portal-bridge-go/internal/model"
	"github.com/breqdev/portal-bridge-go/internal/pubsub"
	"github.com/breqdev/portal-bridge-go/internal/repository"
	"github.com/breqdev/portal-bridge-go/internal/service"
)

const defaultInvocationLimit = 50

// ClientHandler is the HTTP surface for external portal clients. Every route
// runs behind portal token auth.
type ClientHandler struct {
	registry    *service.Registry
	broker      pubsub.Broker
	invocations repository.InvocationRepository
}

func NewClientHandler(
	registry *service.Registry,
	broker pubsub.Broker,
	invocations repository.InvocationRepository,
) *ClientHandler {
	return &ClientHandler{
		registry:    registry,
		broker:      broker,
		invocations: invocations,
	}
}

func (h *ClientHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/portal", h.Portal)
	r.Get("/invocations", h.Invocations)
	r.Post("/status", h.Status)
	r.Post("/respond", h.Respond)

	return r
}

// GET /client/portal
// Returns the authenticated portal's own record, token excluded.
func (h *ClientHandler) Portal(w http.ResponseWriter, r *http.Request) {
	portal := middleware.GetPortal(r.Context())
	if portal == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	writeJSON(w, http.StatusOK, portal)
}

// GET /client/invocations
// Recent invocation history for the authenticated portal.
func (h *ClientHandler) Invocations(w http.ResponseWriter, r *http.Request) {
	portal := middleware.GetPortal(r.Context())
	if portal == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	invocations, err := h.invocations.ListByPortal(r.Context(), portal.ID, defaultInvocationLimit)
	if err != nil {
		log.Error().Err(err).Str("portalId", portal.ID).Msg("failed to list invocations")
		httputil.WriteError(w, apperrors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"invocations": invocations})
}

// POST /client/status
// The client reports its connection state: 0 disconnected, 1 connected but
// not ready, 2 connected and ready.
func (h *ClientHandler) Status(w http.ResponseWriter, r *http.Request) {
	portal := middleware.GetPortal(r.Context())
	if portal == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req struct {
		Status int `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "must be JSON"))
		return
	}

	if err := h.registry.SetStatus(r.Context(), portal.ID, model.Status(req.Status)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	log.Info().Str("portalId", portal.ID).Int("status", req.Status).Msg("portal status updated")
	writeJSON(w, http.StatusOK, map[string]string{"status": model.Status(req.Status).String()})
}

// POST /client/respond
// The client answers a job: the response envelope is published on the job's
// channel, where the waiting session picks it up.
func (h *ClientHandler) Respond(w http.ResponseWriter, r *http.Request) {
	portal := middleware.GetPortal(r.Context())
	if portal == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req struct {
		Job  string             `json:"job"`
		Data model.ResponseData `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "must be JSON"))
		return
	}
	if req.Job == "" {
		httputil.WriteError(w, apperrors.InvalidInput("job", "is required"))
		return
	}

	envelope := model.ResponseEnvelope{
		Type: model.EnvelopeTypeResponse,
		Data: req.Data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		httputil.WriteError(w, apperrors.Internal("Failed to encode response"))
		return
	}

	channel := pubsub.JobChannel(portal.ID, req.Job)
	if err := h.broker.Publish(r.Context(), channel, payload); err != nil {
		log.Error().Err(err).Str("jobId", req.Job).Msg("failed to publish response")
		httputil.WriteError(w, apperrors.Internal("Failed to publish response"))
		return
	}

	log.Info().Str("portalId", portal.ID).Str("jobId", req.Job).Msg("response published")
	writeJSON(w, http.StatusAccepted, map[string]string{"job": req.Job})
}
