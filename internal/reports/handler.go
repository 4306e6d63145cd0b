package reports

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bracken-sec/conmon/internal/pkg/httputil"
)

// Handler handles HTTP requests for authorization reports.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new reports handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all HTTP routes for the reports module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Post("/", h.Generate)
		r.Get("/{id}", h.Get)
		r.Put("/{id}/narrative", h.SetNarrative)
		r.Post("/{id}/attestation", h.RecordAttestation)
		r.Post("/{id}/submit", h.Submit)
		r.Post("/{id}/comments", h.AddReviewComment)
		r.Get("/{id}/comments", h.ListReviewComments)
	})
	r.Get("/services/{serviceID}/reports", h.ListByService)
}

// GenerateRequest represents the request body for generating a report.
type GenerateRequest struct {
	ServiceID string `json:"service_id" validate:"required,uuid"`
	Year      int    `json:"year" validate:"required,min=2020,max=2100"`
	Quarter   int    `json:"quarter" validate:"required,min=1,max=4"`
}

// Generate handles POST /reports.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	report, err := h.service.Generate(r.Context(), req.ServiceID, req.Year, req.Quarter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, report)
}

// Get handles GET /reports/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, report)
}

// ListByService handles GET /services/{serviceID}/reports.
func (h *Handler) ListByService(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListByService(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// NarrativeRequest carries the report narrative text.
type NarrativeRequest struct {
	Narrative string `json:"narrative" validate:"required"`
}

// SetNarrative handles PUT /reports/{id}/narrative.
func (h *Handler) SetNarrative(w http.ResponseWriter, r *http.Request) {
	var req NarrativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	report, err := h.service.SetNarrative(r.Context(), chi.URLParam(r, "id"), req.Narrative)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, report)
}

// AttestationRequest represents the sign-off request body.
type AttestationRequest struct {
	Role      string `json:"role"`
	Statement string `json:"statement" validate:"required"`
}

// RecordAttestation handles POST /reports/{id}/attestation.
func (h *Handler) RecordAttestation(w http.ResponseWriter, r *http.Request) {
	var req AttestationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	report, err := h.service.RecordAttestation(r.Context(), chi.URLParam(r, "id"), AttestationInput{
		Role:      req.Role,
		Statement: req.Statement,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, report)
}

// Submit handles POST /reports/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, report)
}

// ReviewCommentRequest represents a reviewer annotation.
type ReviewCommentRequest struct {
	Comment string `json:"comment" validate:"required"`
}

// AddReviewComment handles POST /reports/{id}/comments.
func (h *Handler) AddReviewComment(w http.ResponseWriter, r *http.Request) {
	var req ReviewCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	comment, err := h.service.AddReviewComment(r.Context(), chi.URLParam(r, "id"), req.Comment)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, comment)
}

// ListReviewComments handles GET /reports/{id}/comments.
func (h *Handler) ListReviewComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.service.ListReviewComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, comments)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrReportNotFound, Status: http.StatusNotFound},
		{Error: ErrDuplicateReport, Status: http.StatusConflict},
	})
}
