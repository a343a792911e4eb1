package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/rumble/pkg/metrics"
)

// IdempotencyHeader names the optional request header that makes a command
// safe to re-deliver.
const IdempotencyHeader = "Idempotency-Key"

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Milliseconds())
		status := strconv.Itoa(wrapped.statusCode)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, durationMs)

		if wrapped.statusCode >= http.StatusBadRequest {
			errorType := getErrorType(wrapped.statusCode)
			metrics.RecordErrorByEndpoint(endpoint, r.Method, errorType)
			metrics.RecordErrorByType(errorType, getErrorSeverity(wrapped.statusCode))
		}
	}
}

// idempotent acknowledges a repeated Idempotency-Key without running the
// command again. A repeat that arrives while the first request is still
// running gets 409 request_in_flight. A command that fails releases its key
// so it can be retried.
func (s *Server) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		key = r.Method + " " + r.URL.Path + " " + key
		if _, busy := s.inflight.LoadOrStore(key, struct{}{}); busy {
			metrics.RecordDuplicateRequest()
			writeJSON(w, http.StatusConflict, errorResponse{
				Code:      "request_in_flight",
				Message:   ErrRequestInFlight.Error(),
				Retryable: true,
			})
			return
		}
		defer s.inflight.Delete(key)

		if s.deps.SeenAndRecord(r.Context(), key) {
			metrics.RecordDuplicateRequest()
			writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
			return
		}
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		if wrapped.statusCode >= http.StatusBadRequest {
			s.deps.Unrecord(r.Context(), key)
		}
	}
}

func getErrorType(statusCode int) string {
	switch {
	case statusCode == http.StatusServiceUnavailable:
		return "unavailable"
	case statusCode >= http.StatusInternalServerError:
		return "server_error"
	case statusCode == http.StatusNotFound:
		return "not_found"
	case statusCode == http.StatusConflict || statusCode == http.StatusUnprocessableEntity:
		return "rejected"
	default:
		return "client_error"
	}
}

func getErrorSeverity(statusCode int) string {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return "high"
	case statusCode >= http.StatusBadRequest:
		return "medium"
	default:
		return "low"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
