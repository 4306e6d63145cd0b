package incidents

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/pkg/httputil"
)

// Handler handles HTTP requests for the incident lifecycle.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all HTTP routes for the incidents module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Get("/{id}/timeline", h.Timeline)
		r.Post("/{id}/timeline", h.AddTimelineEntry)
		r.Post("/{id}/report", h.MarkReported)
		r.Post("/{id}/analysis", h.BeginAnalysis)
		r.Post("/{id}/containment", h.RecordContainment)
		r.Post("/{id}/eradication/start", h.BeginEradication)
		r.Post("/{id}/eradication", h.RecordEradication)
		r.Post("/{id}/recovery/start", h.BeginRecovery)
		r.Post("/{id}/recovery", h.RecordRecovery)
		r.Post("/{id}/lessons-learned", h.RecordLessonsLearned)
		r.Post("/{id}/close", h.Close)
		r.Patch("/{id}/severity", h.UpdateSeverity)
		r.Put("/{id}/impact", h.UpdateImpact)
		r.Put("/{id}/attack", h.UpdateAttack)
		r.Post("/{id}/external-report", h.SubmitReport)
		r.Post("/{id}/external-report/update-required", h.RequireReportUpdate)
		r.Post("/{id}/external-report/finalize", h.FinalizeReport)
	})
}

// CreateRequest represents the request body for recording an incident.
type CreateRequest struct {
	ServiceID       string     `json:"service_id" validate:"required,uuid"`
	Title           string     `json:"title" validate:"required,min=1,max=255"`
	Description     string     `json:"description"`
	Category        string     `json:"category" validate:"required"`
	Severity        string     `json:"severity" validate:"required,oneof=critical high moderate low informational"`
	DetectedAt      *time.Time `json:"detected_at"`
	DetectionSource string     `json:"detection_source"`
	RelatedCheckIDs []string   `json:"related_check_ids"`
}

// Create handles POST /incidents.
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

	input := CreateInput{
		ServiceID:       req.ServiceID,
		Title:           req.Title,
		Description:     req.Description,
		Category:        domain.IncidentCategory(req.Category),
		Severity:        domain.IncidentSeverity(req.Severity),
		DetectionSource: req.DetectionSource,
		RelatedCheckIDs: req.RelatedCheckIDs,
	}
	if req.DetectedAt != nil {
		input.DetectedAt = *req.DetectedAt
	}

	incident, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// Get handles GET /incidents/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// List handles GET /incidents.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := Filter{}
	q := r.URL.Query()

	if v := q.Get("service_id"); v != "" {
		filter.ServiceID = &v
	}
	if v := q.Get("status"); v != "" {
		status := domain.IncidentStatus(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = &status
	}
	if v := q.Get("severity"); v != "" {
		severity := domain.IncidentSeverity(v)
		if !severity.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid severity")
			return
		}
		filter.Severity = &severity
	}
	if v := q.Get("category"); v != "" {
		category := domain.IncidentCategory(v)
		if !category.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid category")
			return
		}
		filter.Category = &category
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// Timeline handles GET /incidents/{id}/timeline.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

// TimelineEntryRequest represents a manual timeline note.
type TimelineEntryRequest struct {
	Description string `json:"description" validate:"required,min=1"`
	Detail      string `json:"detail"`
}

// AddTimelineEntry handles POST /incidents/{id}/timeline.
func (h *Handler) AddTimelineEntry(w http.ResponseWriter, r *http.Request) {
	var req TimelineEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	entry, err := h.service.AddTimelineEntry(r.Context(), chi.URLParam(r, "id"), req.Description, req.Detail)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, entry)
}

// detailRequest carries an optional narrative detail for a transition.
type detailRequest struct {
	Detail string `json:"detail"`
}

func (h *Handler) decodeDetail(r *http.Request) string {
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	var req detailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ""
	}
	return req.Detail
}

// MarkReported handles POST /incidents/{id}/report.
func (h *Handler) MarkReported(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.MarkReported(r.Context(), chi.URLParam(r, "id"))
	})
}

// BeginAnalysis handles POST /incidents/{id}/analysis.
func (h *Handler) BeginAnalysis(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.BeginAnalysis(r.Context(), chi.URLParam(r, "id"))
	})
}

// RecordContainment handles POST /incidents/{id}/containment.
func (h *Handler) RecordContainment(w http.ResponseWriter, r *http.Request) {
	detail := h.decodeDetail(r)
	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.RecordContainment(r.Context(), chi.URLParam(r, "id"), detail)
	})
}

// BeginEradication handles POST /incidents/{id}/eradication/start.
func (h *Handler) BeginEradication(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.BeginEradication(r.Context(), chi.URLParam(r, "id"))
	})
}

// RecordEradication handles POST /incidents/{id}/eradication.
func (h *Handler) RecordEradication(w http.ResponseWriter, r *http.Request) {
	detail := h.decodeDetail(r)
	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.RecordEradication(r.Context(), chi.URLParam(r, "id"), detail)
	})
}

// BeginRecovery handles POST /incidents/{id}/recovery/start.
func (h *Handler) BeginRecovery(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.BeginRecovery(r.Context(), chi.URLParam(r, "id"))
	})
}

// RecordRecovery handles POST /incidents/{id}/recovery.
func (h *Handler) RecordRecovery(w http.ResponseWriter, r *http.Request) {
	detail := h.decodeDetail(r)
	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.RecordRecovery(r.Context(), chi.URLParam(r, "id"), detail)
	})
}

// RecordLessonsLearned handles POST /incidents/{id}/lessons-learned.
func (h *Handler) RecordLessonsLearned(w http.ResponseWriter, r *http.Request) {
	detail := h.decodeDetail(r)
	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.RecordLessonsLearned(r.Context(), chi.URLParam(r, "id"), detail)
	})
}

// Close handles POST /incidents/{id}/close.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.Close(r.Context(), chi.URLParam(r, "id"))
	})
}

// UpdateSeverityRequest carries a revised severity.
type UpdateSeverityRequest struct {
	Severity string `json:"severity" validate:"required,oneof=critical high moderate low informational"`
}

// UpdateSeverity handles PATCH /incidents/{id}/severity.
func (h *Handler) UpdateSeverity(w http.ResponseWriter, r *http.Request) {
	var req UpdateSeverityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.UpdateSeverity(r.Context(), chi.URLParam(r, "id"), domain.IncidentSeverity(req.Severity))
	})
}

// UpdateImpact handles PUT /incidents/{id}/impact.
func (h *Handler) UpdateImpact(w http.ResponseWriter, r *http.Request) {
	var impact domain.IncidentImpact
	if err := json.NewDecoder(r.Body).Decode(&impact); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.UpdateImpact(r.Context(), chi.URLParam(r, "id"), impact)
	})
}

// UpdateAttack handles PUT /incidents/{id}/attack.
func (h *Handler) UpdateAttack(w http.ResponseWriter, r *http.Request) {
	var attack domain.IncidentAttack
	if err := json.NewDecoder(r.Body).Decode(&attack); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.UpdateAttack(r.Context(), chi.URLParam(r, "id"), attack)
	})
}

// SubmitReportRequest carries the external case number.
type SubmitReportRequest struct {
	CaseNo string `json:"case_no"`
}

// SubmitReport handles POST /incidents/{id}/external-report.
func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	var req SubmitReportRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.SubmitReport(r.Context(), chi.URLParam(r, "id"), req.CaseNo)
	})
}

// RequireReportUpdateRequest carries the reason a follow-up is needed.
type RequireReportUpdateRequest struct {
	Reason string `json:"reason"`
}

// RequireReportUpdate handles POST /incidents/{id}/external-report/update-required.
func (h *Handler) RequireReportUpdate(w http.ResponseWriter, r *http.Request) {
	var req RequireReportUpdateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.RequireReportUpdate(r.Context(), chi.URLParam(r, "id"), req.Reason)
	})
}

// FinalizeReport handles POST /incidents/{id}/external-report/finalize.
func (h *Handler) FinalizeReport(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.Incident, error) {
		return h.service.FinalizeReport(r.Context(), chi.URLParam(r, "id"))
	})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, fn func() (*domain.Incident, error)) {
	incident, err := fn()
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, incident)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrIncidentNotFound, Status: http.StatusNotFound},
	})
}
