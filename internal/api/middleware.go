package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Conxian/conxian-nexus/internal/metrics"
	"github.com/Conxian/conxian-nexus/internal/tracing"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// handle wraps a route handler with the shared request plumbing:
// request id, rate limiting, body size cap, metrics and a trace span.
// The route label is the registered pattern, not the raw path, to keep
// metric cardinality bounded.
func (s *Server) handle(route string, fn http.HandlerFunc) http.Handler {
	tracer := tracing.Tracer("api")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		if !s.limiter.Allow() {
			metrics.APIRequestsTotal.WithLabelValues(route, "429").Inc()
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		}

		ctx, span := tracer.Start(r.Context(), route)
		span.SetAttributes(attribute.String("request.id", requestID))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r.WithContext(ctx))
		elapsed := time.Since(start)
		span.End()

		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.APILatency.WithLabelValues(route).Observe(elapsed.Seconds())

		s.logger.Debug("request served",
			"route", route,
			"status", rec.status,
			"elapsed", elapsed,
			"request_id", requestID,
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
