// Package server implements the HTTP front-end (component C11): the two
// protocol-facing handlers, authentication, per-model-family throttling, and
// the request-observability ring, wired over the account pool and upstream
// client.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/yansir/cc-relayer/internal/account"
	"github.com/yansir/cc-relayer/internal/auth"
	"github.com/yansir/cc-relayer/internal/config"
	"github.com/yansir/cc-relayer/internal/errs"
	"github.com/yansir/cc-relayer/internal/events"
	"github.com/yansir/cc-relayer/internal/schema"
	"github.com/yansir/cc-relayer/internal/sigcache"
	"github.com/yansir/cc-relayer/internal/store"
	"github.com/yansir/cc-relayer/internal/transport"
	"github.com/yansir/cc-relayer/internal/upstream"
)

// modelPrefix is the client-facing model-name prefix stripped before the
// request reaches the vendor (§8, scenario 1).
const modelPrefix = "antigravity-"

// Server is the main HTTP server.
type Server struct {
	cfg          *config.Config
	store        store.Store
	accountStore *account.Store
	pool         *account.Pool
	tokens       *account.TokenSource
	projects     *account.ProjectResolver
	upstream     *upstream.Client
	authMw       *auth.Middleware
	sigCache     *sigcache.Cache
	ring         *events.Ring
	logHandler   *events.LogHandler
	httpServer   *http.Server
	version      string
	startTime    time.Time

	throttleMu   sync.Mutex
	lastRequest  map[schema.Family]time.Time
}

// New wires the account pool, token/project resolvers, and upstream client
// over the given persistence/transport collaborators, and builds the mux.
func New(cfg *config.Config, s store.Store, crypto *account.Crypto, tm *transport.Manager, ring *events.Ring, lh *events.LogHandler, version string) (*Server, error) {
	accountStore := account.NewStore(cfg.AccountFilePath, slog.Default())
	accounts, index, settings, err := accountStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load account file: %w", err)
	}

	pool := account.NewPool(accounts, index, settings, accountStore.PersistFunc())
	tokens := account.NewTokenSource(pool, crypto, cfg.TokenRefreshInterval, nil)
	projects := account.NewProjectResolver(pool, cfg.UpstreamEndpoints, cfg.DefaultProjectID)
	client := upstream.NewClient(pool, tokens, projects, tm, cfg.UpstreamEndpoints, cfg.MaxWaitBeforeError, cfg.MaxRetryAccounts)

	if _, err := accountStore.Watch(func(accounts []*account.Account, index int, settings account.Settings) {
		pool.Reload(accounts, index, settings)
	}); err != nil {
		slog.Warn("account file watch disabled", "error", err)
	}

	srv := &Server{
		cfg:          cfg,
		store:        s,
		accountStore: accountStore,
		pool:         pool,
		tokens:       tokens,
		projects:     projects,
		upstream:     client,
		authMw:       auth.NewMiddleware(cfg.ServerAPIKey),
		sigCache:     sigcache.New(),
		ring:         ring,
		logHandler:   lh,
		version:      version,
		startTime:    time.Now(),
		lastRequest:  make(map[schema.Family]time.Time),
	}

	mux := http.NewServeMux()
	srv.registerRoutes(mux)

	srv.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:        requestLogger(mux),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   cfg.RequestTimeout + 30*time.Second,
		MaxHeaderBytes: cfg.MaxRequestBodyMB << 20,
	}

	return srv, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	auth := s.authMw.Authenticate

	mux.Handle("POST /v1/messages", auth(http.HandlerFunc(s.handleMessages)))
	mux.Handle("POST /v1/messages/count_tokens", auth(http.HandlerFunc(s.handleCountTokens)))
	mux.Handle("GET /v1/models", auth(http.HandlerFunc(s.handleModels)))
	mux.Handle("POST /chat/completions", auth(http.HandlerFunc(s.handleChatCompletions)))

	mux.HandleFunc("GET /health", s.handleHealth)
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go s.runLogPurge(ctx)

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// runLogPurge deletes request_log entries older than 30 days every 6 hours.
func (s *Server) runLogPurge(ctx context.Context) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := time.Now().Add(-30 * 24 * time.Hour)
			n, err := s.store.PurgeOldLogs(ctx, before)
			if err != nil {
				slog.Error("purge old logs failed", "error", err)
			} else if n > 0 {
				slog.Info("purged old request logs", "count", n)
			}
		}
	}
}

// throttleDelay returns the configured per-family minimum spacing (§4.11).
func (s *Server) throttleDelay(fam schema.Family) time.Duration {
	switch fam {
	case schema.FamilyC:
		return s.cfg.ThrottleFamilyC
	case schema.FamilyV:
		return s.cfg.ThrottleFamilyV
	default:
		return s.cfg.ThrottleFamilyOther
	}
}

// throttle sleeps, if needed, so consecutive dispatches to the same model
// family are spaced by at least the family's configured delay. The sleep is
// issued after releasing the mutex (§5).
func (s *Server) throttle(ctx context.Context, fam schema.Family) error {
	delay := s.throttleDelay(fam)

	s.throttleMu.Lock()
	last, ok := s.lastRequest[fam]
	now := time.Now()
	wait := time.Duration(0)
	if ok {
		if elapsed := now.Sub(last); elapsed < delay {
			wait = delay - elapsed
		}
	}
	s.lastRequest[fam] = now.Add(wait)
	s.throttleMu.Unlock()

	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// recordRequest snapshots one completed dispatch into the ring and issues a
// best-effort durable insert without blocking the response (§5).
func (s *Server) recordRequest(rec events.RequestRecord) {
	s.ring.Publish(rec)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.InsertRequestLog(ctx, &store.RequestLog{
			AccountID:    rec.AccountID,
			Model:        rec.Model,
			InputTokens:  rec.InputTokens,
			OutputTokens: rec.OutputTokens,
			Status:       rec.Status,
			DurationMs:   rec.DurationMs,
			CreatedAt:    rec.Timestamp,
		}); err != nil {
			slog.Warn("insert request log failed", "error", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errs.SanitizeForClient(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
