package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/graph"
	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
)

// ErrorKind is the outward error taxonomy. Only this layer maps kinds to
// HTTP statuses; everything below it returns typed domain errors.
type ErrorKind string

const (
	ErrInput        ErrorKind = "INVALID_INPUT"
	ErrUnauthorized ErrorKind = "UNAUTHORIZED"
	ErrAccess       ErrorKind = "ACCESS_DENIED"
	ErrPolicy       ErrorKind = "POLICY_VIOLATION"
	ErrNotFound     ErrorKind = "NOT_FOUND"
	ErrConflict     ErrorKind = "CONFLICT"
	ErrRateLimited  ErrorKind = "RATE_LIMITED"
	ErrInternal     ErrorKind = "INTERNAL"
	ErrBackend      ErrorKind = "BACKEND_UNAVAILABLE"
	ErrTimeout      ErrorKind = "TIMEOUT"
)

func statusFor(kind ErrorKind) int {
	switch kind {
	case ErrInput:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrAccess, ErrPolicy:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrBackend:
		return http.StatusServiceUnavailable
	case ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.L(logging.CategoryServer).Warn("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, kind ErrorKind, message string) {
	body := map[string]any{"error": string(kind), "message": message}
	if kind == ErrRateLimited {
		body["retry_after_seconds"] = 60
	}
	writeJSON(w, statusFor(kind), body)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// kindForError maps domain sentinel errors onto the outward taxonomy.
func kindForError(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, query.ErrBackendUnavailable), errors.Is(err, llm.ErrBackendUnavailable):
		return ErrBackend
	case errors.Is(err, graph.ErrNotFound):
		return ErrNotFound
	default:
		return ErrInternal
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		logging.L(logging.CategoryServer).Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(started)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
