package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"litcritic/pkg/observability"
)

// Server is the HTTP façade over a Core. Contracts are strict: JSON only,
// unknown fields rejected, required fields checked before any model call.
type Server struct {
	core       Core
	addr       string
	httpServer *http.Server
}

// NewServer wraps a core for HTTP serving on addr.
func NewServer(core Core, addr string) *Server {
	if addr == "" {
		addr = ":8080"
	}
	return &Server{core: core, addr: addr}
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.setupRouting(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("core service listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("core service failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down core service: %w", err)
	}
	slog.Info("core service stopped")
	return nil
}

func (s *Server) setupRouting() http.Handler {
	r := chi.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Get("/metrics", observability.MetricsHandler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/discuss", s.handleDiscuss)
		r.Post("/re-evaluate-finding", s.handleReEvaluate)
	})
	return r
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	resp, err := s.core.Analyze(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDiscuss(w http.ResponseWriter, r *http.Request) {
	var req DiscussRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamDiscuss(w, r, &req)
		return
	}
	resp, err := s.core.Discuss(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamDiscuss serves the turn as server-sent events: token events as the
// reply arrives, then exactly one done or error event. Failures before the
// stream opens report as plain JSON errors; once streaming, errors ride
// inside the stream.
func (s *Server) streamDiscuss(w http.ResponseWriter, r *http.Request, req *DiscussRequest) {
	events, err := s.core.DiscussStream(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorStatus(w, http.StatusInternalServerError, apiError{Message: "streaming unsupported by this connection"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("failed to marshal stream event", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleReEvaluate(w http.ResponseWriter, r *http.Request) {
	var req ReEvaluateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	resp, err := s.core.ReEvaluate(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// validator is any request type with required-field checks.
type validator interface {
	Validate() error
}

// decodeRequest enforces the contract edge: JSON content type, no unknown
// fields, required fields present. It writes the error response itself and
// reports whether the handler should proceed.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst validator) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		writeErrorStatus(w, http.StatusUnsupportedMediaType, apiError{
			Field:   "Content-Type",
			Message: "Content-Type must be application/json",
		})
		return false
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, apiError{Message: "malformed request body: " + err.Error()})
		return false
	}
	if err := dst.Validate(); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

// apiError is the wire error shape inside the error envelope.
type apiError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// writeError maps an operation error to its status class: validation
// trouble is the caller's (400), everything else is transient upstream
// trouble the client may retry (502).
func writeError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		writeErrorStatus(w, http.StatusBadRequest, apiError{Field: ve.Field, Message: ve.Message})
		return
	}
	writeErrorStatus(w, http.StatusBadGateway, apiError{Message: err.Error()})
}

func writeErrorStatus(w http.ResponseWriter, status int, e apiError) {
	writeJSON(w, status, errorEnvelope{Error: e})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// responseWriter captures the status code for logging and metrics while
// passing Flush through for SSE.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
		)
	})
}

// metricsMiddleware records one span and one request metric per call, keyed
// by the chi route pattern rather than the raw path.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tracer := observability.GetTracer("litcritic.http")
		ctx, span := tracer.Start(r.Context(), "http.request",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			),
		)
		defer span.End()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		duration := time.Since(start)
		span.SetAttributes(
			attribute.Int("http.status_code", wrapped.statusCode),
			attribute.Int64("http.duration_ms", duration.Milliseconds()),
		)
		if wrapped.statusCode >= 500 {
			span.SetStatus(codes.Error, http.StatusText(wrapped.statusCode))
		} else {
			span.SetStatus(codes.Ok, "")
		}

		if m := observability.GetGlobalMetrics(); m != nil {
			m.RecordHTTPRequest(ctx, r.Method, routePattern(r), wrapped.statusCode, duration)
		}
	})
}

// routePattern extracts the matched chi pattern, falling back to the raw
// path outside a chi context.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}
