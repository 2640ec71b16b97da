package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/MJE43/mines-desktop/internal/session"
	"github.com/MJE43/mines-desktop/internal/store"
)

// Journal is the read side of the round journal.
type Journal interface {
	ListRounds(ctx context.Context, f store.RoundFilter) (store.RoundsPage, error)
	GetRound(ctx context.Context, id string) (store.RoundDetail, error)
	Summary(ctx context.Context, sessionID string) (store.Summary, error)
	Ping(ctx context.Context) error
}

// Options configures the control API.
type Options struct {
	// Port on 127.0.0.1. Zero picks a free port.
	Port           int
	AllowedOrigins []string
	RequestTimeout time.Duration
	DefaultMines   int
}

// Server is the loopback control API over the player session.
type Server struct {
	opts         Options
	session      *session.Session
	journal      Journal
	auth         *Authenticator
	hub          *Hub
	errorHandler *ErrorHandler
	logger       *zap.Logger
	startTime    time.Time

	unsubscribe func()
	httpServer  *http.Server
	addr        net.Addr
}

// NewServer wires the API to sess. journal may be nil, in which case the
// history endpoints answer 503.
func NewServer(sess *session.Session, journal *store.Store, auth *Authenticator, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.DefaultMines <= 0 {
		opts.DefaultMines = 3
	}
	s := &Server{
		opts:         opts,
		session:      sess,
		auth:         auth,
		hub:          NewHub(logger.Named("ws")),
		errorHandler: NewErrorHandler(logger),
		logger:       logger,
		startTime:    time.Now(),
	}
	if journal != nil {
		s.journal = journal
	}
	s.unsubscribe = sess.Engine().Subscribe(s.hub.Observer())
	return s
}

// Routes sets up the HTTP routes with proper middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Engine-Version", "X-Error-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
		r.Get("/health", s.handleHealthCheck)
		r.Get("/health/ready", s.handleReadiness)
		r.Get("/health/live", s.handleLiveness)
		r.Get("/version", s.handleVersion)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware(s.errorHandler))

		// The event stream outlives any request timeout.
		r.Get("/events", s.hub.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))
			r.Get("/session", s.handleGetSession)
			r.Post("/session/deposit", s.handleDeposit)
			r.Post("/rounds", s.handlePlaceBet)
			r.Get("/rounds", s.handleListRounds)
			r.Get("/rounds/current", s.handleCurrentRound)
			r.Post("/rounds/current/reveal", s.handleReveal)
			r.Post("/rounds/current/cashout", s.handleCashOut)
			r.Get("/rounds/{id}", s.handleGetRound)
			r.Get("/summary", s.handleSummary)
		})
	})

	return r
}

// Start binds 127.0.0.1 and serves in a goroutine. It returns once the
// socket is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}
	s.addr = ln.Addr()
	s.httpServer = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("control API listening", zap.String("addr", s.addr.String()))
	return nil
}

// URL returns the base URL once started.
func (s *Server) URL() string {
	if s.addr == nil {
		return ""
	}
	return "http://" + s.addr.String()
}

// Hub exposes the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Shutdown gracefully stops the HTTP server and disconnects event clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
