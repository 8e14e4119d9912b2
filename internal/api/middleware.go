package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"openflow/internal/service"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WriteError writes a standardized error response. The error field carries
// the human-readable message shown by clients.
func WriteError(w http.ResponseWriter, code int, errCode, message string, log *zap.Logger) {
	level := zap.WarnLevel
	if code >= http.StatusInternalServerError {
		level = zap.ErrorLevel
	}
	log.Check(level, "API error").Write(zap.Int("status", code), zap.String("code", errCode), zap.String("message", message))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    errCode,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeServiceError maps service errors to status codes. Anything that is not
// a service.Error is logged and hidden behind a generic message.
func (d Dependencies) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", errMessage(err), d.Log)
	case errors.Is(err, service.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, "invalid_request", errMessage(err), d.Log)
	case errors.Is(err, service.ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, "unauthorized", errMessage(err), d.Log)
	default:
		d.Log.Error("Request failed", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal", "Internal server error", d.Log)
	}
}

func errMessage(err error) string {
	var target *service.Error
	if errors.As(err, &target) {
		return target.Message
	}
	return err.Error()
}

// onAuthError adapts WriteError to auth.ErrorWriter.
func (d Dependencies) onAuthError(w http.ResponseWriter, status int, code, message string) {
	WriteError(w, status, code, message, d.Log)
}

// RequestLogger logs HTTP requests and responses
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// WebSocket upgrades need the raw ResponseWriter for hijacking
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RateLimit admits limit requests per client IP and window under the given
// key prefix and answers 429 with message beyond that.
func (d Dependencies) RateLimit(prefix string, limit int, window time.Duration, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d.Limiter != nil && !d.Limiter.Allow(r.Context(), prefix+":"+clientIP(r), limit, window) {
				WriteError(w, http.StatusTooManyRequests, "rate_limited", message, d.Log)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. middleware.RealIP has already
// replaced it with the forwarded address when a proxy set one.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
