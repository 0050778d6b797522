package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-dev/liveroute/pkg/event"
	"github.com/vango-dev/liveroute/pkg/messaging"
	"github.com/vango-dev/liveroute/pkg/middleware"
	"github.com/vango-dev/liveroute/pkg/routepath"
	"github.com/vango-dev/liveroute/pkg/router"
	"github.com/vango-dev/liveroute/pkg/state"
)

// Server adapts HTTP requests to router Events and serves live ports.
type Server struct {
	config   *Config
	router   *router.Router
	ports    *Ports
	mux      chi.Router
	upgrader websocket.Upgrader

	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server dispatching to r.
func New(r *router.Router, config *Config) *Server {
	config = config.withDefaults()
	logger := config.Logger.With("component", "server")

	s := &Server{
		config: config,
		router: r,
		ports:  NewPorts(config.PortTTL, config.PortBacklog, config.Logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: config.CheckOrigin,
		},
		logger: logger,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)

	if config.MetricsPath != "" {
		var reg prometheus.Registerer = prometheus.DefaultRegisterer
		handler := promhttp.Handler()
		if config.Registry != nil {
			reg = config.Registry
			handler = promhttp.HandlerFor(config.Registry, promhttp.HandlerOpts{})
		}
		r.Use(middleware.Prometheus(middleware.WithRegistry(reg)))
		messaging.EnableMetrics(reg)
		mux.Handle(config.MetricsPath, handler)
	}

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Get(config.LivePath+"/{id}", s.HandleAttach)
	mux.Handle("/*", http.HandlerFunc(s.HandleEvent))
	s.mux = mux
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Ports returns the live port registry.
func (s *Server) Ports() *Ports {
	return s.ports
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// HandleEvent turns the request into an Event, dispatches it and writes the
// answer.
func (s *Server) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if target, ok := canonicalTarget(r); !ok {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	} else if target != "" {
		http.Redirect(w, r, target, http.StatusPermanentRedirect)
		return
	}

	stores, err := s.openStores(r)
	if err != nil {
		s.logger.Error("open state", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// The event outlives the request so live responses keep running; a
	// client that leaves before the answer aborts it.
	base := r.WithContext(context.WithoutCancel(r.Context()))
	e := event.New(base,
		event.WithStores(stores),
		event.WithLogger(s.logger.With("request_id", chimw.GetReqID(r.Context()))),
	)
	stop := context.AfterFunc(r.Context(), func() {
		e.Abort(context.Cause(r.Context()))
	})

	res, err := s.router.Dispatch(e)
	stop()
	if err != nil {
		s.writeError(w, e, err)
		return
	}

	s.commit(w.Header(), e)
	s.writeResult(w, r, res)
}

// commit saves state before the answer when the lifecycle is over, and in
// the background otherwise. Cookies set after the answer is written are
// dropped.
func (s *Server) commit(h http.Header, e *event.Event) {
	select {
	case <-e.Done():
		ctx, cancel := context.WithTimeout(context.Background(), s.config.CommitTimeout)
		defer cancel()
		if err := e.Commit(ctx, h); err != nil {
			e.Logger().Error("commit state", "error", err)
		}
	default:
		go func() {
			<-e.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.config.CommitTimeout)
			defer cancel()
			discard := make(http.Header)
			if err := e.Commit(ctx, discard); err != nil {
				e.Logger().Error("commit state", "error", err)
			}
			if n := len(discard.Values("Set-Cookie")); n > 0 {
				e.Logger().Warn("cookies set after the answer were dropped", "count", n)
			}
		}()
	}
}

// HandleAttach upgrades to a websocket and joins the live port named in the
// path.
func (s *Server) HandleAttach(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.ports.Has(id) {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	socket := s.config.Socket.Clone()
	if socket == nil {
		socket = messaging.DefaultSocketConfig()
	}
	if socket.Logger == nil {
		socket.Logger = s.config.Logger
	}
	port, err := messaging.NewSocketPort(conn, socket)
	if err != nil {
		s.logger.Error("socket port", "error", err)
		return
	}
	if err := s.ports.Attach(id, port); err != nil {
		s.logger.Debug("attach after release", "port", id)
		port.Close()
	}
}

// openStores builds the Event's state stores from the request.
func (s *Server) openStores(r *http.Request) (*state.Stores, error) {
	cfg := s.config.State
	stores := &state.Stores{Cookies: state.NewCookies(r)}

	if cfg.Session != nil {
		id, ok := stores.Cookies.Get(cfg.SessionCookie)
		if _, err := uuid.Parse(id); !ok || err != nil {
			id = uuid.NewString()
			stores.Cookies.Set(&http.Cookie{
				Name:     cfg.SessionCookie,
				Value:    id,
				HttpOnly: true,
				Secure:   cfg.SecureCookies,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   int(cfg.SessionTTL / time.Second),
			})
		}
		session, err := state.Open(r.Context(), cfg.Session, id, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		stores.Session = session
	}

	if cfg.User != nil && cfg.UserID != nil {
		if id := cfg.UserID(r); id != "" {
			user, err := state.Open(r.Context(), cfg.User, id, cfg.UserTTL)
			if err != nil {
				return nil, fmt.Errorf("user: %w", err)
			}
			stores.User = user
		}
	}
	return stores, nil
}

// canonicalTarget returns the canonical form of the request target when it
// differs from the request, and false when the path is invalid.
func canonicalTarget(r *http.Request) (string, bool) {
	input := r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		input += "?" + r.URL.RawQuery
	}
	result, err := routepath.CanonicalizePath(input)
	if err != nil {
		return "", false
	}
	if !result.Changed {
		return "", true
	}
	target := result.Path
	if result.Query != "" {
		target += "?" + result.Query
	}
	return target, true
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.mux,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown releases live ports and gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.ports.Close()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
