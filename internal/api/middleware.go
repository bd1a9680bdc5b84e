package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"analyticsbridge/internal/auth"
	"analyticsbridge/internal/router"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type requestContextKey string

const (
	requestIDContextKey  requestContextKey = "analytics_bridge_request_id"
	routeLabelContextKey requestContextKey = "analytics_bridge_route_label"
)

const (
	requestIDHeader    = "X-Request-Id"
	maxRequestIDLength = 128
	problemTypeBaseURI = "https://analytics-bridge.dev/problems/"
	unmatchedRoute     = "unmatched"
)

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.wroteHeader {
		return
	}
	s.status = status
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(p)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		s.wroteHeader = true
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// HeaderWritten reports whether the status line has gone out.
func (s *statusRecorder) HeaderWritten() bool {
	return s.wroteHeader
}

func (s *Server) withSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r = withRequestID(r)
		if rid := requestIDFromRequest(r); rid != "" {
			rec.Header().Set(requestIDHeader, rid)
		}
		label := unmatchedRoute
		r = r.WithContext(context.WithValue(r.Context(), routeLabelContextKey, &label))
		defer func() {
			s.metrics.IncRequest(label, r.Method, rec.status)
			s.logger.Info("request",
				zap.String("request_id", requestIDFromRequest(r)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", label),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		}()

		ip := clientIP(r.RemoteAddr)
		if !s.limiter.allow(ip) {
			s.metrics.IncRateLimited()
			writeJSONErrorForRequest(rec, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		acct, presented, ok := s.auth.Authenticate(r)
		switch {
		case presented && !ok:
			s.metrics.IncAuthFailure()
			s.logger.Warn("rejected bearer token", zap.String("client_ip", ip))
			if s.limiter.addAuthFailure(ip) {
				writeJSONErrorForRequest(rec, r, http.StatusTooManyRequests, "Too many failed auth attempts. Retry later.")
				return
			}
		case presented:
			s.limiter.clearAuthFailures(ip)
		}
		r = r.WithContext(auth.WithAccount(r.Context(), acct))

		next.ServeHTTP(rec, r)
	})
}

// requireAdmin guards the admin surface with the reporting permission.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.FromContext(r.Context()).HasPermission(router.AdminPermission) {
			writeJSONErrorForRequest(w, r, http.StatusForbidden, router.ErrForbidden.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setRouteLabel(r *http.Request, label string) {
	if p, ok := r.Context().Value(routeLabelContextKey).(*string); ok && p != nil {
		*p = label
	}
}

func withRequestID(r *http.Request) *http.Request {
	if r == nil {
		return r
	}
	if existing := requestIDFromRequest(r); existing != "" {
		ctx := context.WithValue(r.Context(), requestIDContextKey, existing)
		return r.WithContext(ctx)
	}
	rid := "req_" + uuid.NewString()
	ctx := context.WithValue(r.Context(), requestIDContextKey, rid)
	return r.WithContext(ctx)
}

func isValidRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, ch := range id {
		if ch < 33 || ch > 126 {
			return false
		}
	}
	return true
}

func requestIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		return rid
	}
	rid := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if isValidRequestID(rid) {
		return rid
	}
	return ""
}

// RequestIDFromContext returns the id assigned to the request carried by ctx.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if rid, ok := ctx.Value(requestIDContextKey).(string); ok && isValidRequestID(strings.TrimSpace(rid)) {
		return strings.TrimSpace(rid)
	}
	return ""
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response failed", zap.Error(err))
	}
}

func problemTypeURI(statusCode int, detail string) string {
	detailLower := strings.ToLower(strings.TrimSpace(detail))
	switch statusCode {
	case http.StatusBadRequest:
		return problemTypeBaseURI + "bad-request"
	case http.StatusUnauthorized:
		return problemTypeBaseURI + "unauthorized"
	case http.StatusForbidden:
		return problemTypeBaseURI + "forbidden"
	case http.StatusNotFound:
		return problemTypeBaseURI + "not-found"
	case http.StatusMethodNotAllowed:
		return problemTypeBaseURI + "method-not-allowed"
	case http.StatusTooManyRequests:
		if strings.Contains(detailLower, "auth attempt") {
			return problemTypeBaseURI + "auth-rate-limited"
		}
		return problemTypeBaseURI + "rate-limited"
	case http.StatusServiceUnavailable:
		return problemTypeBaseURI + "not-ready"
	case http.StatusInternalServerError:
		return problemTypeBaseURI + "internal"
	default:
		return problemTypeBaseURI + "http-" + strconv.Itoa(statusCode)
	}
}

func problemPayload(r *http.Request, statusCode int, detail string, extra map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{
		"type":   problemTypeURI(statusCode, detail),
		"title":  http.StatusText(statusCode),
		"status": statusCode,
	}
	if payload["title"] == "" {
		payload["title"] = "Error"
	}
	if detail != "" {
		payload["detail"] = detail
		// Same key the bridge uses for CLI errors.
		payload["error"] = detail
	}
	if r != nil && r.URL != nil {
		if instance := strings.TrimSpace(r.URL.Path); instance != "" {
			payload["instance"] = instance
		}
	}
	if rid := requestIDFromRequest(r); rid != "" {
		payload["request_id"] = rid
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

func writeProblem(w http.ResponseWriter, statusCode int, payload map[string]interface{}) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONErrorForRequest(w http.ResponseWriter, r *http.Request, statusCode int, msg string) {
	writeProblem(w, statusCode, problemPayload(r, statusCode, msg, nil))
}
