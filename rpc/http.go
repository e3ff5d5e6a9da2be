// Package rpc exposes the donation ledger over a JSON HTTP API.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"charityledger/core"
	"charityledger/indexer"
	"charityledger/native/donation"
	"charityledger/observability"
)

const maxBodyBytes = 1 << 20

// Ledger is the subset of the node the API drives.
type Ledger interface {
	PatchParams(ctx context.Context, caller [20]byte, patch donation.ParamsPatch) (*core.Receipt, error)
	CreateCampaign(ctx context.Context, caller [20]byte) (*core.Receipt, error)
	ContributeCurrency(ctx context.Context, caller [20]byte, id, amount uint64, rewardWallet [20]byte) (*core.Receipt, error)
	ContributeToken(ctx context.Context, caller [20]byte, id, amount uint64, purpose donation.TokenPurpose) (*core.Receipt, error)
	Withdraw(ctx context.Context, caller [20]byte, id uint64) (*core.Receipt, error)
	Cancel(ctx context.Context, caller [20]byte, id uint64) (*core.Receipt, error)
	RewardTopDonaters(ctx context.Context, caller [20]byte, wallets [][20]byte) (*core.Receipt, error)
	WithdrawFee(ctx context.Context, caller [20]byte) (*core.Receipt, error)

	Service() (*donation.ServiceLedger, error)
	Campaign(id uint64) (*donation.Campaign, error)
	Contributor(id uint64, contributor [20]byte) (*donation.ContributorRecord, error)
	Rankings() ([]donation.RankEntry, error)
	Balances(addr [20]byte) (map[string]*big.Int, error)
}

// EventArchive answers historical event queries.
type EventArchive interface {
	Query(ctx context.Context, q indexer.Query) ([]indexer.EventRecord, error)
}

// Config captures the dependencies of the HTTP server.
type Config struct {
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Idempotency *IdempotencyStore
	Archive     EventArchive
	Hub         *Hub
	Logger      *slog.Logger

	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
}

// Server serves the donation API.
type Server struct {
	ledger  Ledger
	auth    *Authenticator
	limiter *RateLimiter
	idem    *IdempotencyStore
	archive EventArchive
	hub     *Hub
	logger  *slog.Logger
	cfg     Config

	router http.Handler
}

// NewServer wires the router. A nil archive, hub or idempotency store disables
// the corresponding feature.
func NewServer(ledger Ledger, cfg Config) (*Server, error) {
	if ledger == nil {
		return nil, errors.New("rpc: ledger required")
	}
	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:  ledger,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		idem:    cfg.Idempotency,
		archive: cfg.Archive,
		hub:     cfg.Hub,
		logger:  logger,
		cfg:     cfg,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer returns an http.Server for addr using the configured timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	readHeader := s.cfg.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 5 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeader,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware)
			public.Get("/service", s.handleGetService)
			public.Get("/rankings", s.handleGetRankings)
			public.Get("/campaigns/{id}", s.handleGetCampaign)
			public.Get("/campaigns/{id}/contributors/{addr}", s.handleGetContributor)
			public.Get("/balances/{addr}", s.handleGetBalances)
			public.Get("/events", s.handleListEvents)
		})
		api.Get("/events/stream", s.handleEventStream)

		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Use(s.limiter.Middleware)
			if s.idem != nil {
				protected.Use(s.idem.Middleware)
			}
			protected.Post("/campaigns", s.handleCreateCampaign)
			protected.Post("/campaigns/{id}/contributions", s.handleContribute)
			protected.Post("/campaigns/{id}/tokens", s.handleContributeToken)
			protected.Post("/campaigns/{id}/withdraw", s.handleWithdraw)
			protected.Post("/campaigns/{id}/cancel", s.handleCancel)
			protected.Post("/service/rewards", s.handleRewards)
			protected.Post("/service/fees/withdraw", s.handleWithdrawFee)
			protected.Put("/service/params", s.handleUpdateParams)
		})
	})

	return otelhttp.NewHandler(r, "charityledger.rpc")
}

// requestID assigns a uuid to each request unless the client sent one.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(chimw.RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(chimw.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), chimw.RequestIDKey, id)
		ctx = withLogger(ctx, s.logger.With("requestid", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// observe records request metrics and an access log line.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		duration := time.Since(start)
		observability.ModuleMetrics().Observe(route, r.Method, status, duration)

		loggerFrom(r.Context()).Debug("http request", "method", r.Method, "path", route, "status", status, "duration", duration)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ledger.Service(); err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
