package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/pkg/ctxlog"
)

// ErrorMapping defines how a domain sentinel error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

// HandleError maps a domain error to an HTTP response.
// Typed engine errors (precondition, validation, not-found, conflict) are
// mapped first, then the provided sentinel mappings. Anything else is
// logged and returned as 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	var precondition *domain.PreconditionError
	if errors.As(err, &precondition) {
		Error(w, http.StatusConflict, precondition.Error())
		return
	}

	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		Error(w, http.StatusBadRequest, validation.Error())
		return
	}

	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		Error(w, http.StatusNotFound, notFound.Error())
		return
	}

	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		Error(w, http.StatusConflict, conflict.Error())
		return
	}

	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			Error(w, m.Status, msg)
			return
		}
	}

	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
