package validation

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/pkg/httputil"
)

// Runner executes a rule immediately on operator request.
type Runner interface {
	RunNow(ctx context.Context, ruleID string) (*domain.Execution, error)
}

// Handler handles HTTP requests for the validation rule catalogue.
type Handler struct {
	service   *Service
	runner    Runner
	validator *validator.Validate
}

// NewHandler creates a new validation handler. The runner may be nil; the
// trigger endpoint then returns a precondition error.
func NewHandler(service *Service, runner Runner) *Handler {
	return &Handler{
		service:   service,
		runner:    runner,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all HTTP routes for the validation module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/checks", func(r chi.Router) {
		r.Post("/", h.CreateRule)
		r.Get("/", h.ListRules)
		r.Get("/{id}", h.GetRule)
		r.Post("/{id}/activate", h.Activate)
		r.Post("/{id}/pause", h.Pause)
		r.Post("/{id}/deprecate", h.Deprecate)
		r.Post("/{id}/trigger", h.Trigger)
		r.Post("/{id}/executions", h.RecordExecution)
		r.Get("/{id}/executions", h.ListExecutions)
	})
}

// CreateRuleRequest represents the request body for creating a check rule.
type CreateRuleRequest struct {
	ServiceID     *string            `json:"service_id" validate:"omitempty,uuid"`
	Name          string             `json:"name" validate:"required,min=1,max=255"`
	Kind          string             `json:"kind" validate:"required,oneof=scanner api_probe config log_query evidence_freshness script manual_reminder"`
	IndicatorRefs []string           `json:"indicator_refs"`
	Frequency     string             `json:"frequency" validate:"required,oneof=continuous hourly daily weekly monthly quarterly on_demand"`
	Config        domain.CheckConfig `json:"config"`
	PassCriteria  string             `json:"pass_criteria"`
}

// CreateRule handles POST /checks.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	rule, err := h.service.CreateRule(r.Context(), CreateRuleInput{
		ServiceID:     req.ServiceID,
		Name:          req.Name,
		Kind:          domain.CheckKind(req.Kind),
		IndicatorRefs: req.IndicatorRefs,
		Frequency:     domain.CheckFrequency(req.Frequency),
		Config:        req.Config,
		PassCriteria:  req.PassCriteria,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, rule)
}

// GetRule handles GET /checks/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, rule)
}

// ListRules handles GET /checks.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	filter := RuleFilter{}
	q := r.URL.Query()

	if v := q.Get("service_id"); v != "" {
		filter.ServiceID = &v
	}
	if v := q.Get("status"); v != "" {
		status := domain.RuleStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = &status
	}
	if v := q.Get("kind"); v != "" {
		kind := domain.CheckKind(v)
		if !kind.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid kind")
			return
		}
		filter.Kind = &kind
	}

	rules, err := h.service.ListRules(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, rules)
}

// Activate handles POST /checks/{id}/activate.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.Activate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, rule)
}

// Pause handles POST /checks/{id}/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, rule)
}

// Deprecate handles POST /checks/{id}/deprecate.
func (h *Handler) Deprecate(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.Deprecate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, rule)
}

// Trigger handles POST /checks/{id}/trigger.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		httputil.Error(w, http.StatusConflict, "scheduler is disabled")
		return
	}

	execution, err := h.runner.RunNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, execution)
}

// RecordExecutionRequest represents a manually reported execution outcome.
type RecordExecutionRequest struct {
	Passed      bool             `json:"passed"`
	Detail      string           `json:"detail"`
	Error       *string          `json:"error"`
	DurationMS  int64            `json:"duration_ms" validate:"min=0"`
	Findings    []domain.Finding `json:"findings"`
	EvidenceIDs []string         `json:"evidence_ids"`
}

// RecordExecution handles POST /checks/{id}/executions. Used to report
// outcomes of manual or externally run validations.
func (h *Handler) RecordExecution(w http.ResponseWriter, r *http.Request) {
	var req RecordExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	execution, err := h.service.RecordExecution(r.Context(), chi.URLParam(r, "id"), ExecutionInput{
		Passed:      req.Passed,
		Detail:      req.Detail,
		Error:       req.Error,
		Duration:    time.Duration(req.DurationMS) * time.Millisecond,
		Findings:    req.Findings,
		EvidenceIDs: req.EvidenceIDs,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, execution)
}

// ListExecutions handles GET /checks/{id}/executions.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	executions, err := h.service.ListExecutions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, executions)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrRuleNotFound, Status: http.StatusNotFound},
		{Error: ErrDuplicateRule, Status: http.StatusConflict},
	})
}
