// Package devbackend is a development implementation of the widget
// backend: tenant configs, chat, and realtime config updates.
package devbackend

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	MaxMessageLength = 1000
	maxConfigBytes   = 64 << 10
	shutdownTimeout  = 10 * time.Second
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message" validate:"notblank,max=1000"`
	ClientID  string `json:"client_id" validate:"notblank"`
	SessionID string `json:"session_id,omitempty" validate:"max=128"`
}

// ChatResponse is the answer to POST /chat.
type ChatResponse struct {
	Response  string    `json:"response"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Cached    bool      `json:"cached"`
}

type Options struct {
	Store      Store
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// Responder defaults to EchoResponder.
	Responder Responder
	// Registry receives the server's metrics; a private one is used when
	// nil.
	Registry *prometheus.Registry
	// AllowedOrigins lists CORS origins; empty allows any.
	AllowedOrigins []string
	Logger         *zerolog.Logger
	Now            func() time.Time
}

type Server struct {
	store     Store
	publisher message.Publisher
	responder Responder
	hub       *Hub
	limiter   *chatLimiter
	metrics   *metrics
	origins   map[string]bool
	logger    zerolog.Logger
	now       func() time.Time
	upgrader  websocket.Upgrader
	handler   http.Handler
}

func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Publisher == nil || opts.Subscriber == nil {
		return nil, errors.New("publisher and subscriber are required")
	}
	logger := log.With().Str("component", "devbackend").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Responder == nil {
		opts.Responder = EchoResponder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		store:     opts.Store,
		publisher: opts.Publisher,
		responder: opts.Responder,
		limiter:   newChatLimiter(opts.Now),
		metrics:   newMetrics(opts.Registry),
		logger:    logger,
		now:       opts.Now,
	}
	s.hub = NewHub(opts.Subscriber, logger, func(delta int) { s.metrics.realtimeConns.Add(float64(delta)) })
	if len(opts.AllowedOrigins) > 0 {
		s.origins = map[string]bool{}
		for _, o := range opts.AllowedOrigins {
			s.origins[strings.TrimRight(o, "/")] = true
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		return s.originAllowed(r.Header.Get("Origin"))
	}}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(s.corsOptions()))
	r.Get("/config/{clientId}", s.metrics.instrument("config_get", s.handleGetConfig))
	r.Post("/config/{clientId}", s.metrics.instrument("config_post", s.handlePostConfig))
	r.Post("/chat", s.metrics.instrument("chat", s.handleChat))
	r.Get("/realtime/{clientId}", s.metrics.instrument("realtime", s.handleRealtime))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())
	s.handler = r
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub exposes the realtime hub, mainly for tests and status output.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) originAllowed(origin string) bool {
	if s.origins == nil || origin == "" {
		return true
	}
	return s.origins[strings.TrimRight(origin, "/")]
}

// corsOptions mirrors the origin policy of the realtime upgrader.
func (s *Server) corsOptions() cors.Options {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}
	if s.origins == nil {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowOriginFunc = func(_ *http.Request, origin string) bool { return s.originAllowed(origin) }
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	cfg, err := s.store.Get(r.Context(), clientID)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("client_id", clientID).Msg("config lookup failed")
		writeError(w, http.StatusInternalServerError, "config lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, cfg.PublicView())
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(body) > maxConfigBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "config too large")
		return
	}
	cfg, err := DecodeTenantConfig(clientID, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.UpdateConfig(r.Context(), cfg); err != nil {
		s.logger.Error().Err(err).Str("client_id", clientID).Msg("config update failed")
		writeError(w, http.StatusInternalServerError, "config update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Configuration updated successfully"})
}

// UpdateConfig stores cfg and publishes it to the tenant's realtime
// subscribers. A failed publish is logged; the stored config stands.
func (s *Server) UpdateConfig(ctx context.Context, cfg TenantConfig) error {
	if err := s.store.Put(ctx, cfg); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode config update")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.publisher.Publish(TopicFor(cfg.ClientID), msg); err != nil {
		s.logger.Error().Err(err).Str("client_id", cfg.ClientID).Msg("config update publish failed")
		return nil
	}
	s.metrics.configUpdates.Inc()
	s.logger.Info().Str("client_id", cfg.ClientID).Msg("config updated")
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxConfigBytes))
	if err := dec.Decode(&req); err != nil {
		s.metrics.chatMessages.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid chat request")
		return
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	if err := validate.Struct(req); err != nil {
		s.metrics.chatMessages.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, validationError(err).Error())
		return
	}

	tenant, err := s.store.Get(r.Context(), req.ClientID)
	if errors.Is(err, ErrNotFound) || (err == nil && !tenant.Enabled) {
		s.metrics.chatMessages.WithLabelValues("unknown_tenant").Inc()
		writeError(w, http.StatusNotFound, "Client not found or disabled")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("client_id", req.ClientID).Msg("tenant lookup failed")
		writeError(w, http.StatusInternalServerError, "tenant lookup failed")
		return
	}

	if !s.limiter.Allow(req.ClientID, tenant.RateLimit) {
		s.metrics.chatMessages.WithLabelValues("rate_limited").Inc()
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	started := s.now()
	reply, err := s.responder.Respond(r.Context(), tenant, req)
	if err != nil {
		s.metrics.chatMessages.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Str("client_id", req.ClientID).Str("session_id", sessionID).Msg("responder failed")
		writeError(w, http.StatusInternalServerError, "Chat processing failed")
		return
	}
	s.metrics.chatMessages.WithLabelValues("ok").Inc()
	s.logger.Debug().
		Str("client_id", req.ClientID).
		Str("session_id", sessionID).
		Dur("took", s.now().Sub(started)).
		Msg("chat answered")
	writeJSON(w, http.StatusOK, ChatResponse{
		Response:  reply,
		SessionID: sessionID,
		Timestamp: s.now(),
	})
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	attach, release, err := s.hub.Prepare(clientID)
	if err != nil {
		s.logger.Error().Err(err).Str("client_id", clientID).Msg("realtime subscribe failed")
		writeError(w, http.StatusServiceUnavailable, "realtime unavailable")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		release()
		return
	}
	s.logger.Debug().Str("client_id", clientID).Msg("realtime connected")
	attach(conn)
	s.logger.Debug().Str("client_id", clientID).Msg("realtime disconnected")
}

// Seed stores every tenant without publishing.
func (s *Server) Seed(ctx context.Context, tenants []TenantConfig) error {
	for _, t := range tenants {
		if err := s.store.Put(ctx, t); err != nil {
			return errors.Wrapf(err, "seed %s", t.ClientID)
		}
	}
	return nil
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("dev backend listening")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown error")
			return err
		}
		s.logger.Info().Msg("dev backend stopped")
		return nil
	})
	return eg.Wait()
}
