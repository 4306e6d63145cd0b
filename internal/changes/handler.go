package changes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/pkg/httputil"
)

// Handler handles HTTP requests for change control.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new changes handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all HTTP routes for the changes module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/changes", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Get("/{id}/audit", h.AuditTrail)
		r.Post("/{id}/submit", h.Submit)
		r.Post("/{id}/impact-analysis/start", h.StartImpactAnalysis)
		r.Post("/{id}/impact-analysis", h.CompleteImpactAnalysis)
		r.Post("/{id}/notification-determination", h.DetermineNotification)
		r.Post("/{id}/notification", h.SubmitNotification)
		r.Post("/{id}/notification/acknowledge", h.AcknowledgeNotification)
		r.Post("/{id}/security-review/complete", h.CompleteSecurityReview)
		r.Post("/{id}/approve", h.Approve)
		r.Post("/{id}/implement", h.MarkImplemented)
		r.Post("/{id}/reject", h.Reject)
		r.Post("/{id}/withdraw", h.Withdraw)
	})
}

// CreateRequest represents the request body for drafting a change request.
type CreateRequest struct {
	ServiceID              string     `json:"service_id" validate:"required,uuid"`
	Title                  string     `json:"title" validate:"required,min=1,max=255"`
	Description            string     `json:"description"`
	Type                   string     `json:"type" validate:"required,oneof=feature infrastructure security configuration third_party emergency"`
	PlannedAt              *time.Time `json:"planned_at"`
	SecurityReviewRequired bool       `json:"security_review_required"`
}

// Create handles POST /changes.
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

	change, err := h.service.Create(r.Context(), CreateInput{
		ServiceID:              req.ServiceID,
		Title:                  req.Title,
		Description:            req.Description,
		Type:                   domain.ChangeType(req.Type),
		PlannedAt:              req.PlannedAt,
		SecurityReviewRequired: req.SecurityReviewRequired,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, change)
}

// Get handles GET /changes/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	change, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, change)
}

// List handles GET /changes.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := Filter{}
	q := r.URL.Query()

	if v := q.Get("service_id"); v != "" {
		filter.ServiceID = &v
	}
	if v := q.Get("status"); v != "" {
		status := domain.ChangeStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = &status
	}
	if v := q.Get("type"); v != "" {
		changeType := domain.ChangeType(v)
		if !changeType.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid type")
			return
		}
		filter.Type = &changeType
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// AuditTrail handles GET /changes/{id}/audit.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.AuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

// Submit handles POST /changes/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.ChangeRequest, error) {
		return h.service.Submit(r.Context(), chi.URLParam(r, "id"))
	})
}

// StartImpactAnalysis handles POST /changes/{id}/impact-analysis/start.
func (h *Handler) StartImpactAnalysis(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.ChangeRequest, error) {
		return h.service.StartImpactAnalysis(r.Context(), chi.URLParam(r, "id"))
	})
}

// ImpactRequest represents a completed impact analysis.
type ImpactRequest struct {
	Level              string   `json:"level" validate:"required,oneof=low moderate high"`
	AffectedComponents []string `json:"affected_components"`
	AffectedIndicators []string `json:"affected_indicators"`
	AffectedControls   []string `json:"affected_controls"`
	RiskBefore         string   `json:"risk_before"`
	RiskAfter          string   `json:"risk_after"`
	RiskDelta          string   `json:"risk_delta" validate:"required,oneof=increased neutral reduced"`
}

// CompleteImpactAnalysis handles POST /changes/{id}/impact-analysis.
func (h *Handler) CompleteImpactAnalysis(w http.ResponseWriter, r *http.Request) {
	var req ImpactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	h.respond(w, r, func() (*domain.ChangeRequest, error) {
		return h.service.CompleteImpactAnalysis(r.Context(), chi.URLParam(r, "id"), ImpactInput{
			Level:              domain.ImpactLevel(req.Level),
			AffectedComponents: req.AffectedComponents,
			AffectedIndicators: req.AffectedIndicators,
			AffectedControls:   req.AffectedControls,
			RiskBefore:         req.RiskBefore,
			RiskAfter:          req.RiskAfter,
			RiskDelta:          domain.RiskDelta(req.RiskDelta),
		})
	})
}

// DetermineNotificationRequest represents the notification determination.
type DetermineNotificationRequest struct {
	Required  bool   `json:"required"`
	Category  string `json:"category"`
	Rationale string `json:"rationale"`
}

// DetermineNotification handles POST /changes/{id}/notification-determination.
func (h *Handler) DetermineNotification(w http.ResponseWriter, r *http.Request) {
	var req DetermineNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	h.respond(w, r, func() (*domain.ChangeRequest, error) {
		return h.service.DetermineNotificationRequired(r.Context(), chi.URLParam(r, "id"),
			req.Required, req.Category, req.Rationale)
	})
}

// SubmitNotificationRequest carries the external case number.
type SubmitNotificationRequest struct {
	CaseNo string `json:"case_no"`
}

// SubmitNotification handles POST /changes/{id}/notification.
func (h *Handler) SubmitNotification(w http.ResponseWriter, r *http.Request) {
	var req SubmitNotificationRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	h.respond(w, r, func() (*domain.ChangeRequest, error) {
		return h.service.SubmitNotification(r.Context(), chi.URLParam(r, "id"), req.CaseNo)
	})
}

// AcknowledgeNotification handles POST /changes/{id}/notification/acknowledge.
func (h *Handler) AcknowledgeNotification(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.ChangeRequest, error) {
		return h.service.AcknowledgeNotification(r.Context(), chi.URLParam(r, "id"))
	})
}

// CompleteSecurityReview handles POST /changes/{id}/security-review/complete.
func (h *Handler) CompleteSecurityReview(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.ChangeRequest, error) {
		return h.service.CompleteSecurityReview(r.Context(), chi.URLParam(r, "id"))
	})
}

// Approve handles POST /changes/{id}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.ChangeRequest, error) {
		return h.service.Approve(r.Context(), chi.URLParam(r, "id"))
	})
}

// MarkImplemented handles POST /changes/{id}/implement.
func (h *Handler) MarkImplemented(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.ChangeRequest, error) {
		return h.service.MarkImplemented(r.Context(), chi.URLParam(r, "id"))
	})
}

// reasonRequest carries an optional reason for a terminal transition.
type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) decodeReason(r *http.Request) string {
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ""
	}
	return req.Reason
}

// Reject handles POST /changes/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	reason := h.decodeReason(r)
	h.respond(w, r, func() (*domain.ChangeRequest, error) {
		return h.service.Reject(r.Context(), chi.URLParam(r, "id"), reason)
	})
}

// Withdraw handles POST /changes/{id}/withdraw.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	reason := h.decodeReason(r)
	h.respond(w, r, func() (*domain.ChangeRequest, error) {
		return h.service.Withdraw(r.Context(), chi.URLParam(r, "id"), reason)
	})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, fn func() (*domain.ChangeRequest, error)) {
	change, err := fn()
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, change)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrChangeNotFound, Status: http.StatusNotFound},
	})
}
