package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/xiaofeng19920506/microservice/internal/errors"
	"github.com/xiaofeng19920506/microservice/internal/logging"
)

// Recovery converts panics in the gateway's own logic into a structured 500.
// The panic value and stack are logged with the request id; neither reaches
// the client.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logging.Error("panic recovered",
						zap.Any("error", err),
						zap.String("request_id", GetRequestID(r)),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)

					errors.ErrInternal.WithRequestID(GetRequestID(r)).WriteJSON(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
