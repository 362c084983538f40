package middleware

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaofeng19920506/microservice/internal/logging"
)

var accessLogRWPool = sync.Pool{
	New: func() any { return &accessLogWriter{} },
}

// accessLogWriter wraps http.ResponseWriter to capture status and bytes.
type accessLogWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *accessLogWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *accessLogWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *accessLogWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AccessLog emits one structured log entry per request. Paths in skipPaths
// (health probes, metrics scrapes) are not logged.
func AccessLog(skipPaths ...string) Middleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			lw := accessLogRWPool.Get().(*accessLogWriter)
			lw.ResponseWriter = w
			lw.status = http.StatusOK
			lw.bytes = 0

			next.ServeHTTP(lw, r)

			logging.Info("request completed",
				zap.String("request_id", GetRequestID(r)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", lw.status),
				zap.Int64("bytes", lw.bytes),
				zap.Duration("duration", time.Since(start)),
			)

			lw.ResponseWriter = nil
			accessLogRWPool.Put(lw)
		})
	}
}
