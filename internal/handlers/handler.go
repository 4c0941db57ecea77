// Package handlers exposes the management API over chi. Handlers decode
// requests, delegate to the service layer and translate ServiceError codes
// into problem+json responses.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	api "github.com/meridian-cloud/service-orchestrator/api/v1alpha1"
	"github.com/meridian-cloud/service-orchestrator/internal/service"
)

const (
	actionSuspend = "suspend"
	actionResume  = "resume"
)

// Handler implements the v1alpha1 management API.
type Handler struct {
	instances *service.InstanceService
	alerts    *service.AlertService
	logger    *zap.Logger
}

func New(instances *service.InstanceService, alerts *service.AlertService, logger *zap.Logger) *Handler {
	return &Handler{instances: instances, alerts: alerts, logger: logger}
}

// Routes builds the API router. The caller mounts it under the version
// prefix.
func (h *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/health", h.GetHealth)

	router.Route("/instances", func(r chi.Router) {
		r.Get("/", h.ListInstances)
		r.Post("/provision", h.ProvisionInstance)
		r.Route("/{instanceID}", func(r chi.Router) {
			r.Get("/", h.GetInstance)
			r.Post("/deprovision", h.DeprovisionInstance)
			r.Post("/actions", h.InstanceAction)
			r.Post("/scale", h.ScaleInstance)
			r.Post("/health-check", h.TriggerHealthCheck)
			r.Get("/metrics", h.ListInstanceMetrics)
			r.Get("/alerts", h.ListInstanceAlerts)
			r.Get("/logs", h.ListInstanceLogs)
		})
	})

	router.Route("/alerts", func(r chi.Router) {
		r.Get("/summary", h.AlertSummary)
		r.Post("/{alertID}/acknowledge", h.AcknowledgeAlert)
		r.Post("/{alertID}/resolve", h.ResolveAlert)
	})

	return router
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.Health{Status: "ok"})
}

func (h *Handler) ProvisionInstance(w http.ResponseWriter, r *http.Request) {
	var req api.ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, newError("invalid-body", "Malformed request body", err.Error(), http.StatusBadRequest))
		return
	}

	ack, err := h.instances.Provision(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, ack)
}

func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	list, err := h.instances.List(r.Context(), query.Get("tenant_id"), query.Get("status"), query.Get("health_status"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.instances.Get(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inst)
}

func (h *Handler) DeprovisionInstance(w http.ResponseWriter, r *http.Request) {
	ack, err := h.instances.Deprovision(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, ack)
}

// InstanceAction multiplexes lifecycle verbs that share a request shape.
func (h *Handler) InstanceAction(w http.ResponseWriter, r *http.Request) {
	var req api.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, newError("invalid-body", "Malformed request body", err.Error(), http.StatusBadRequest))
		return
	}

	instanceID := chi.URLParam(r, "instanceID")
	var (
		inst *api.Instance
		err  error
	)
	switch req.Action {
	case actionSuspend:
		inst, err = h.instances.Suspend(r.Context(), instanceID, req.Reason)
	case actionResume:
		inst, err = h.instances.Resume(r.Context(), instanceID)
	default:
		h.writeProblem(w, newError("validation-error", "Validation failed",
			"action must be one of: suspend, resume", http.StatusBadRequest))
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inst)
}

func (h *Handler) ScaleInstance(w http.ResponseWriter, r *http.Request) {
	var req api.ScaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, newError("invalid-body", "Malformed request body", err.Error(), http.StatusBadRequest))
		return
	}

	inst, err := h.instances.Scale(r.Context(), chi.URLParam(r, "instanceID"), req.TargetInstances, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inst)
}

func (h *Handler) TriggerHealthCheck(w http.ResponseWriter, r *http.Request) {
	ack, err := h.instances.TriggerHealthCheck(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, ack)
}

func (h *Handler) ListInstanceMetrics(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	hours := 0
	if raw := query.Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeProblem(w, newError("validation-error", "Validation failed",
				"hours must be an integer", http.StatusBadRequest))
			return
		}
		hours = parsed
	}

	list, err := h.instances.Metrics(r.Context(), chi.URLParam(r, "instanceID"), hours, query.Get("type"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) ListInstanceAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.instances.Alerts(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) ListInstanceLogs(w http.ResponseWriter, r *http.Request) {
	list, err := h.instances.Logs(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req api.AcknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, newError("invalid-body", "Malformed request body", err.Error(), http.StatusBadRequest))
		return
	}

	alert, err := h.alerts.Acknowledge(r.Context(), chi.URLParam(r, "alertID"), req.AcknowledgedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.Resolve(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) AlertSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.alerts.Summary(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("encoding response failed", zap.Error(err))
	}
}

// writeError maps service error codes to HTTP statuses; anything else is a
// 500 with the detail withheld.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var svcErr *service.ServiceError
	if errors.As(err, &svcErr) {
		switch svcErr.Code {
		case service.ErrCodeValidation:
			h.writeProblem(w, newError("validation-error", "Validation failed", svcErr.Message, http.StatusBadRequest))
		case service.ErrCodeNotFound:
			h.writeProblem(w, newError("not-found", "Resource not found", svcErr.Message, http.StatusNotFound))
		case service.ErrCodeConflict:
			h.writeProblem(w, newError("conflict", "Resource conflict", svcErr.Message, http.StatusConflict))
		case service.ErrCodeProviderError:
			h.writeProblem(w, newError("provider-error", "Provider request failed", svcErr.Message, http.StatusBadGateway))
		default:
			h.writeProblem(w, newError("internal-error", "Internal error", svcErr.Message, http.StatusInternalServerError))
		}
		return
	}

	h.logger.Error("request failed", zap.Error(err))
	h.writeProblem(w, newError("internal-error", "Internal error", "unexpected server error", http.StatusInternalServerError))
}

func (h *Handler) writeProblem(w http.ResponseWriter, problem api.Error) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	if err := json.NewEncoder(w).Encode(problem); err != nil {
		h.logger.Warn("encoding problem response failed", zap.Error(err))
	}
}

func newError(errType, title, detail string, status int) api.Error {
	return api.Error{
		Type:   errType,
		Title:  title,
		Detail: detail,
		Status: status,
	}
}
