package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"txreport/internal/cache"
	"txreport/internal/core"
	"txreport/internal/log"
)

// handleReport serves GET /api/reports/transactions/
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		MethodNotAllowedError("GET, HEAD").Write(w)
		return
	}
	if r.URL.Path != ReportPath {
		NotFoundError().Write(w)
		return
	}

	ctx := r.Context()
	req, err := ParseReportQuery(r.URL.Query())
	if err != nil {
		atomic.AddInt64(&s.appMetrics.badRequests, 1)
		var fields FieldErrors
		if errors.As(err, &fields) {
			ValidationErrorResponse(fields).Write(w)
			return
		}
		ErrorResponse(http.StatusBadRequest, "invalid query parameters").Write(w)
		return
	}

	points, err := s.reports.Report(ctx, req)
	if err != nil {
		atomic.AddInt64(&s.appMetrics.reportErrors, 1)
		if errors.Is(err, core.ErrInvalidReportType) || errors.Is(err, core.ErrInvalidMode) {
			ErrorResponse(http.StatusBadRequest, "invalid query parameters").Write(w)
			return
		}
		log.FromContext(ctx).ErrorContext(ctx, "Report query failed",
			log.NewFields().
				WithReport(string(req.Type), string(req.Mode), req.MerchantID).
				WithError(err).
				WithOperation(log.OpRead).
				ToSlice()...)
		InternalServerError().Write(w)
		return
	}
	if points == nil {
		points = []core.ReportPoint{}
	}

	atomic.AddInt64(&s.appMetrics.reportsServed, 1)
	s.logger.LogReportServed(ctx, string(req.Type), string(req.Mode), req.MerchantID, len(points))
	NewJSONResponse().Payload(points).Write(w)
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Payload(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).Round(time.Second).String(),
	}).Write(w)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})

	if s.store == nil {
		checks["store"] = "not_configured"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else if err := s.store.Ping(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", "error", err)
		checks["store"] = "unavailable"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	if s.cache != nil {
		checks["cache"] = map[string]interface{}{
			"entries": s.cache.Size(),
			"status":  "ok",
		}
	} else {
		checks["cache"] = "disabled"
	}

	checks["rate_limiter"] = map[string]interface{}{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	NewJSONResponse().Status(httpStatus).Payload(map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides application metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	var (
		cacheEntries int
		cacheStats   cache.Stats
	)
	if s.cache != nil {
		cacheEntries = s.cache.Size()
		cacheStats = s.cache.Stats()
	}

	w.WriteHeader(http.StatusOK)

	metric := func(name, kind, help string, value interface{}) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
		fmt.Fprintf(w, "%s %v\n\n", name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_server_errors_total", "counter", "Total number of 5xx responses", traceMetrics.ServerErrors)
	metric("reports_served_total", "counter", "Total number of reports served", atomic.LoadInt64(&s.appMetrics.reportsServed))
	metric("report_errors_total", "counter", "Total number of failed report queries", atomic.LoadInt64(&s.appMetrics.reportErrors))
	metric("report_bad_requests_total", "counter", "Total number of rejected report queries", atomic.LoadInt64(&s.appMetrics.badRequests))
	metric("report_cache_entries", "gauge", "Current report cache entries", cacheEntries)
	metric("report_cache_hits_total", "counter", "Report cache hits", cacheStats.Hits)
	metric("report_cache_misses_total", "counter", "Report cache misses", cacheStats.Misses)
	metric("report_cache_evictions_total", "counter", "Entries evicted for capacity", cacheStats.Evictions)
	metric("rate_limit_hits_total", "counter", "Total rate limit hits", rateLimitMetrics.TotalHits)
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", rateLimitMetrics.ClientCount)
	metric("uptime_seconds", "gauge", "Application uptime in seconds", fmt.Sprintf("%.0f", time.Since(s.appMetrics.uptime).Seconds()))
}
