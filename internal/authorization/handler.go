package authorization

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/pkg/httputil"
)

// Handler handles HTTP requests for service authorizations.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new authorization handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all HTTP routes for the authorization module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/authorizations", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{serviceID}", h.Get)
		r.Post("/{serviceID}/recount", h.Recount)
		r.Post("/{serviceID}/ready", h.MarkReady)
		r.Post("/{serviceID}/submit", h.Submit)
		r.Post("/{serviceID}/grant", h.Grant)
		r.Post("/{serviceID}/revoke", h.Revoke)
		r.Post("/{serviceID}/withdraw", h.Withdraw)
	})
}

// CreateRequest represents the request body for registering a service.
type CreateRequest struct {
	ServiceID   string `json:"service_id" validate:"required,uuid"`
	ServiceName string `json:"service_name" validate:"required,min=1,max=255"`
	ImpactTier  string `json:"impact_tier" validate:"required,oneof=low moderate high"`
}

// Create handles POST /authorizations.
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

	auth, err := h.service.Create(r.Context(), CreateInput{
		ServiceID:   req.ServiceID,
		ServiceName: req.ServiceName,
		ImpactTier:  domain.ImpactTier(req.ImpactTier),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, auth)
}

// Get handles GET /authorizations/{serviceID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	auth, err := h.service.Get(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, auth)
}

// List handles GET /authorizations.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, list)
}

// Recount handles POST /authorizations/{serviceID}/recount. The rollup is
// refreshed automatically on indicator changes; this endpoint forces it.
func (h *Handler) Recount(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceID")

	if err := h.service.RecountMetrics(r.Context(), serviceID); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	auth, err := h.service.Get(r.Context(), serviceID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, auth)
}

// MarkReady handles POST /authorizations/{serviceID}/ready.
func (h *Handler) MarkReady(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.ServiceAuthorization, error) {
		return h.service.MarkReady(r.Context(), chi.URLParam(r, "serviceID"))
	})
}

// Submit handles POST /authorizations/{serviceID}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.ServiceAuthorization, error) {
		return h.service.Submit(r.Context(), chi.URLParam(r, "serviceID"))
	})
}

// Grant handles POST /authorizations/{serviceID}/grant.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.ServiceAuthorization, error) {
		return h.service.Grant(r.Context(), chi.URLParam(r, "serviceID"))
	})
}

// Revoke handles POST /authorizations/{serviceID}/revoke.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.ServiceAuthorization, error) {
		return h.service.Revoke(r.Context(), chi.URLParam(r, "serviceID"))
	})
}

// Withdraw handles POST /authorizations/{serviceID}/withdraw.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func() (*domain.ServiceAuthorization, error) {
		return h.service.Withdraw(r.Context(), chi.URLParam(r, "serviceID"))
	})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, fn func() (*domain.ServiceAuthorization, error)) {
	auth, err := fn()
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, auth)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrAuthorizationNotFound, Status: http.StatusNotFound},
		{Error: ErrDuplicateAuthorization, Status: http.StatusConflict},
	})
}
