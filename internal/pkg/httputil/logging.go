package httputil

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bracken-sec/conmon/internal/pkg/ctxlog"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestLoggerMiddleware injects a request-scoped logger carrying the
// request id into the context, then logs each request on completion. The
// acting identity forwarded by the gateway is logged alongside, so lifecycle
// transitions can be traced back to an operator from the request log alone.
func RequestLoggerMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			logger := base.With("request_id", reqID)
			ctx := ctxlog.WithLogger(r.Context(), logger)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			actor := r.Header.Get(ActorHeader)
			if actor == "" {
				actor = "system"
			}

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"actor", actor,
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
