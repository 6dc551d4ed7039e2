package api

import (
	"fmt"
	"github.com/google/uuid"
	"log/slog"
	"net/http"
	"time"
)

const requestIDHeader = "X-Request-Id"

// accessLog logs every request without its query string, which may carry credentials.
func (s *APIServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		lrw := &loggedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		s.logger.Info("Request handled",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("status_class", statusClass(lrw.statusCode)),
			slog.Int("status", lrw.statusCode),
			slog.Int64("rsp_body_len", lrw.responseLength),
			slog.Duration("took", time.Since(start)),
		)
	})
}

type loggedResponseWriter struct {
	http.ResponseWriter
	statusCode     int
	responseLength int64
}

func (lrw *loggedResponseWriter) WriteHeader(statusCode int) {
	lrw.statusCode = statusCode
	lrw.ResponseWriter.WriteHeader(statusCode)
}

func (lrw *loggedResponseWriter) Write(b []byte) (int, error) {
	size, err := lrw.ResponseWriter.Write(b)
	lrw.responseLength += int64(size)
	return size, err
}

func statusClass(statusCode int) string {
	return fmt.Sprintf("%dxx", statusCode/100)
}
