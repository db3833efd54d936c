package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/relaymesh/gateway/internal/errors"
	"github.com/relaymesh/gateway/internal/logging"
	"github.com/relaymesh/gateway/internal/metrics"
)

// Recovery converts handler panics into 500 responses. Panics are invariant
// violations; they are logged at error with the stack and counted.
func Recovery(agg *metrics.Aggregator, production bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", GetRequestID(r)),
						zap.ByteString("stack", debug.Stack()))

					if agg != nil {
						agg.RecordError(errors.CategoryOther)
					}

					ge := errors.ErrInternalServer.WithRequestID(GetRequestID(r))
					ge.WriteJSON(w, production, false)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
