package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"txreport/internal/cache"
	"txreport/internal/core"
	applog "txreport/internal/log"
	"txreport/internal/middleware/ratelimit"
	"txreport/internal/middleware/security"
	"txreport/internal/middleware/trace"
)

// ReportPath is the route of the transaction report endpoint.
const ReportPath = "/api/reports/transactions/"

// ReportQuerier answers validated report requests.
type ReportQuerier interface {
	Report(ctx context.Context, req core.AggregationRequest) ([]core.ReportPoint, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheInspector is implemented by the report cache.
type CacheInspector interface {
	Size() int
	Stats() cache.Stats
}

// Options tunes the server. Zero values fall back to defaults.
type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	ReadyTimeout   time.Duration
	Logger         *applog.Logger
}

type Server struct {
	http.Server

	reports ReportQuerier
	store   Pinger
	cache   CacheInspector

	logger          *applog.StructuredLogger
	rateLimiter     *ratelimit.Limiter
	traceMiddleware *trace.Middleware
	clientIP        *security.ClientIPResolver
	readyTimeout    time.Duration
	appMetrics      *appMetrics

	shutdownOnce sync.Once
}

type appMetrics struct {
	uptime        time.Time
	reportsServed int64
	reportErrors  int64
	badRequests   int64
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server. reportCache may be nil.
func NewServer(addr string, reports ReportQuerier, store Pinger, reportCache CacheInspector, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentHTTP)
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 5 * time.Second
	}

	resolver := security.NewClientIPResolver()
	s := &Server{
		reports:         reports,
		store:           store,
		cache:           reportCache,
		logger:          applog.NewStructuredLogger(logger),
		clientIP:        resolver,
		traceMiddleware: trace.NewMiddleware(resolver.ExtractClientIP, logger),
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: opts.RateLimitRPS,
			Burst:             opts.RateLimitBurst,
		}),
		readyTimeout: opts.ReadyTimeout,
		appMetrics:   &appMetrics{uptime: time.Now()},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)

	limited := s.rateLimiter.Middleware(resolver.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		TooManyRequestsError().Write(w)
	})
	mux.Handle(ReportPath, limited(http.HandlerFunc(s.handleReport)))

	var handler http.Handler = mux
	handler = applog.RequestIDMiddleware(trace.RequestIDFromRequest)(handler)
	handler = applog.Middleware(logger)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
