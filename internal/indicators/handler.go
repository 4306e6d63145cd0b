package indicators

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/pkg/httputil"
)

// Handler handles HTTP requests for the indicator ledger.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new indicators handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all HTTP routes for the indicators module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/indicators", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Review)
		r.Post("/{id}/not-applicable", h.MarkNotApplicable)
		r.Post("/{id}/evidence", h.AttachEvidence)
		r.Put("/{id}/remediation-plan", h.SetRemediationPlan)
	})
	r.Get("/services/{serviceID}/indicators", h.ListByService)
}

// CreateRequest represents the request body for creating an indicator.
type CreateRequest struct {
	ServiceID      string `json:"service_id" validate:"required,uuid"`
	Reference      string `json:"reference" validate:"required,min=1,max=64"`
	Category       string `json:"category" validate:"required,min=1,max=128"`
	Name           string `json:"name" validate:"required,min=1,max=255"`
	Description    string `json:"description"`
	ApplicableLow  bool   `json:"applicable_low"`
	ApplicableMod  bool   `json:"applicable_moderate"`
	ApplicableHigh bool   `json:"applicable_high"`
	ValidationMode string `json:"validation_mode" validate:"omitempty,oneof=not_validated manual automated hybrid"`
}

// ReviewRequest represents a manual review update.
type ReviewRequest struct {
	ImplementationStatus *string `json:"implementation_status" validate:"omitempty,oneof=not_started in_progress implemented partial not_applicable"`
	ComplianceStatus     *string `json:"compliance_status" validate:"omitempty,oneof=compliant non_compliant pending unknown"`
	ValidationMode       *string `json:"validation_mode" validate:"omitempty,oneof=not_validated manual automated hybrid"`
	AutomationPercent    *int    `json:"automation_percent" validate:"omitempty,min=0,max=100"`
}

// Create handles POST /indicators.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	indicator, err := h.service.Create(r.Context(), CreateInput{
		ServiceID:   req.ServiceID,
		Reference:   req.Reference,
		Category:    req.Category,
		Name:        req.Name,
		Description: req.Description,
		Applicability: domain.Applicability{
			Low:      req.ApplicableLow,
			Moderate: req.ApplicableMod,
			High:     req.ApplicableHigh,
		},
		ValidationMode: domain.ValidationMode(req.ValidationMode),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, indicator)
}

// Get handles GET /indicators/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	indicator, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, indicator)
}

// Review handles PATCH /indicators/{id}.
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := ReviewInput{AutomationPercent: req.AutomationPercent}
	if req.ImplementationStatus != nil {
		v := domain.ImplementationStatus(*req.ImplementationStatus)
		input.ImplementationStatus = &v
	}
	if req.ComplianceStatus != nil {
		v := domain.ComplianceStatus(*req.ComplianceStatus)
		input.ComplianceStatus = &v
	}
	if req.ValidationMode != nil {
		v := domain.ValidationMode(*req.ValidationMode)
		input.ValidationMode = &v
	}

	indicator, err := h.service.Review(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, indicator)
}

// MarkNotApplicableRequest carries the reason for scoping an indicator out.
type MarkNotApplicableRequest struct {
	Reason string `json:"reason" validate:"required,min=1"`
}

// MarkNotApplicable handles POST /indicators/{id}/not-applicable.
func (h *Handler) MarkNotApplicable(w http.ResponseWriter, r *http.Request) {
	var req MarkNotApplicableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	indicator, err := h.service.MarkNotApplicable(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, indicator)
}

// AttachEvidenceRequest carries evidence identifiers to link.
type AttachEvidenceRequest struct {
	EvidenceIDs []string `json:"evidence_ids" validate:"required,min=1,dive,required"`
}

// AttachEvidence handles POST /indicators/{id}/evidence.
func (h *Handler) AttachEvidence(w http.ResponseWriter, r *http.Request) {
	var req AttachEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	indicator, err := h.service.AttachEvidence(r.Context(), chi.URLParam(r, "id"), req.EvidenceIDs)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, indicator)
}

// SetRemediationPlanRequest carries the remediation plan reference.
type SetRemediationPlanRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// SetRemediationPlan handles PUT /indicators/{id}/remediation-plan.
func (h *Handler) SetRemediationPlan(w http.ResponseWriter, r *http.Request) {
	var req SetRemediationPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	indicator, err := h.service.SetRemediationPlan(r.Context(), chi.URLParam(r, "id"), req.PlanID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, indicator)
}

// ListByService handles GET /services/{serviceID}/indicators.
func (h *Handler) ListByService(w http.ResponseWriter, r *http.Request) {
	filter := Filter{}
	q := r.URL.Query()

	if v := q.Get("category"); v != "" {
		filter.Category = &v
	}
	if v := q.Get("compliance_status"); v != "" {
		status := domain.ComplianceStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid compliance_status")
			return
		}
		filter.ComplianceStatus = &status
	}
	if v := q.Get("validation_mode"); v != "" {
		mode := domain.ValidationMode(v)
		if !mode.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid validation_mode")
			return
		}
		filter.ValidationMode = &mode
	}

	list, err := h.service.ListByService(r.Context(), chi.URLParam(r, "serviceID"), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrIndicatorNotFound, Status: http.StatusNotFound},
		{Error: ErrDuplicateIndicator, Status: http.StatusConflict},
	})
}
