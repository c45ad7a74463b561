package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"finlux/internal/ledger"
	"finlux/internal/log"
	"finlux/internal/middleware/ratelimit"
	"finlux/internal/middleware/security"
	"finlux/internal/middleware/trace"
	"finlux/internal/session"
)

// Sessions is the part of the session manager the API drives.
type Sessions interface {
	Engine() (*ledger.Engine, error)
	Info() session.Info
	SignIn(ctx context.Context, userID string) error
	SignOut(ctx context.Context) error
}

// Options tune the server; zero values select defaults.
type Options struct {
	Logger    *log.Logger
	Currency  string
	RateLimit ratelimit.Config
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
}

type Server struct {
	http.Server
	sessions Sessions
	logger   *log.Logger
	currency string
	maxBody  int64
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, sessions Sessions, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.RateLimit.RequestsPerMinute == 0 {
		opts.RateLimit = ratelimit.DefaultConfig()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}

	logger := opts.Logger.WithComponent(log.ComponentHTTP)
	s := &Server{
		sessions: sessions,
		logger:   logger,
		currency: opts.Currency,
		maxBody:  opts.MaxBodyBytes,
		limiter:  ratelimit.NewLimiter(opts.RateLimit),
		detector: security.NewDetector(opts.Logger),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	mux.HandleFunc("GET /api/transactions/{id}", s.handleGetTransaction)
	mux.HandleFunc("PUT /api/transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)
	mux.HandleFunc("GET /api/accounts", s.handleAccounts)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/budgets", s.handleBudgets)
	mux.HandleFunc("GET /api/verify", s.handleVerify)
	mux.HandleFunc("POST /api/reset", s.handleReset)

	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/session/signin", s.handleSignIn)
	mux.HandleFunc("POST /api/session/signout", s.handleSignOut)

	limited := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.detector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		w.Header().Set("Retry-After", "60")
		ErrorResponse(http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded. Please try again later.").Write(w)
	})(mux)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var handler http.Handler = limited
	handler = headers.Middleware(handler)
	handler = s.tracer.Middleware(handler)
	handler = s.detector.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Metrics reports request counters from the middleware chain.
func (s *Server) Metrics() map[string]int64 {
	tm := s.tracer.GetMetrics()
	rm := s.limiter.GetMetrics()
	dm := s.detector.GetMetrics()
	return map[string]int64{
		"requests_total":      tm.TotalRequests,
		"avg_response_us":     tm.AverageResponseTime,
		"rate_limit_hits":     rm.TotalHits,
		"rate_limit_clients":  rm.ClientCount,
		"suspicious_requests": dm.SuspiciousRequests,
		"blocked_requests":    dm.BlockedRequests,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports whether a ledger engine is available.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessions.Engine(); err != nil {
		http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
