package accesslog

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mikaelchan95/easiapp-order-service/pkg/logger"
)

// Handler returns a middleware that logs every incoming HTTP request
// with its duration and response details.
func Handler(logger logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		f := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.With(r.Context(),
				"duration", time.Since(start),
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
			).Infof("%s %s %s", r.Method, r.URL.Path, r.Proto)
		}
		return http.HandlerFunc(f)
	}
}
