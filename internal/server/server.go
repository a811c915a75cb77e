// Package server exposes the engine over HTTP and streams animation frames
// and pipeline events to renderers over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WachasWps/AI-Avatar-Chat/internal/avatar3d"
	"github.com/WachasWps/AI-Avatar-Chat/internal/bus"
	"github.com/WachasWps/AI-Avatar-Chat/internal/config"
	"github.com/WachasWps/AI-Avatar-Chat/internal/engine"
	"github.com/WachasWps/AI-Avatar-Chat/internal/logging"
	"github.com/WachasWps/AI-Avatar-Chat/internal/metrics"
)

// Engine is the part of the speech engine the server drives.
type Engine interface {
	Submit(ctx context.Context, text string) error
	Stop()
	AudioEnded(utterance string, index int)
	AudioPosition(utterance string, index int, position float64)
	SetProfile(p *avatar3d.Profile)
	Frame() engine.FrameState
}

// LogSource serves recent log entries.
type LogSource interface {
	History(limit int) []logging.LogEntry
}

type Option func(*Server)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogs(l LogSource) Option {
	return func(s *Server) { s.logs = l }
}

// WithProfiles sets the avatar profiles selectable through the API.
func WithProfiles(p map[string]*avatar3d.Profile) Option {
	return func(s *Server) { s.profiles = p }
}

type Server struct {
	cfg      config.ServerConfig
	engine   Engine
	bus      *bus.EventBus
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	logs     LogSource
	profiles map[string]*avatar3d.Profile
	hub      *Hub
	upgrader websocket.Upgrader
}

func New(cfg config.ServerConfig, eng Engine, b *bus.EventBus, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		bus:    b,
		logger: logger.With().Str("component", "server").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(logger, s.metrics, cfg.WriteTimeout)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	if b != nil {
		b.SubscribeAll(func(ev bus.Event) {
			s.hub.Broadcast(TypeEvent, ev)
		})
	}
	return s
}

// Hub returns the websocket hub, for feeding frames.
func (s *Server) Hub() *Hub {
	return s.hub
}

// BroadcastFrame pushes one animation frame to every renderer.
func (s *Server) BroadcastFrame(f engine.FrameState) {
	if s.hub.Clients() == 0 {
		return
	}
	s.hub.Broadcast(TypeFrame, f)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/speak", s.handleSpeak)
		r.Post("/stop", s.handleStop)
		r.Get("/state", s.handleState)
		r.Get("/logs", s.handleLogs)
		r.Get("/profiles", s.handleProfiles)
		r.Put("/profile", s.handleSetProfile)
	})
	r.Get("/ws", s.handleWS)

	return otelhttp.NewHandler(r, "avatarchat",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser renderers omit Origin.
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

type speakRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.Clients(),
	})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.submit(r.Context(), req.Text); err != nil {
		if errors.Is(err, engine.ErrEmptySubmission) {
			respondError(w, http.StatusUnprocessableEntity, "empty_submission", err.Error())
			return
		}
		respondError(w, http.StatusServiceUnavailable, "engine_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.Stop()
	respondJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Frame())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		respondJSON(w, http.StatusOK, []logging.LogEntry{})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries := s.logs.History(limit)
	if entries == nil {
		entries = []logging.LogEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	respondJSON(w, http.StatusOK, map[string]any{
		"profiles": names,
		"active":   s.engine.Frame().Profile,
	})
}

func (s *Server) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p, err := avatar3d.LookupProfile(req.Name, s.profiles)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown_profile", err.Error())
		return
	}
	s.engine.SetProfile(p)
	respondJSON(w, http.StatusOK, map[string]any{"profile": p.Name})
}

func (s *Server) submit(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.engine.Submit(ctx, text)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := s.hub.add(conn)
	defer s.hub.remove(c)
	go s.hub.writePump(c)

	s.hub.sendTo(c, Message{Type: TypeHello, ClientID: c.id})

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("client", c.id).Msg("Websocket read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleClientMessage(r.Context(), c, data)
	}
}

func (s *Server) handleClientMessage(ctx context.Context, c *client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.hub.sendTo(c, Message{Type: TypeError, Error: "invalid message: " + err.Error()})
		return
	}
	s.hub.count("inbound", msg.Type)

	switch msg.Type {
	case TypeSpeak:
		if err := s.submit(ctx, msg.Text); err != nil {
			s.hub.sendTo(c, Message{Type: TypeError, Error: err.Error()})
		}
	case TypeStop:
		s.engine.Stop()
	case TypeEnded:
		if msg.Index == nil || msg.Utterance == "" {
			s.hub.sendTo(c, Message{Type: TypeError, Error: "ended requires utterance and index"})
			return
		}
		s.engine.AudioEnded(msg.Utterance, *msg.Index)
	case TypePosition:
		if msg.Index == nil || msg.Utterance == "" || msg.Position == nil {
			s.hub.sendTo(c, Message{Type: TypeError, Error: "position requires utterance, index and position"})
			return
		}
		s.engine.AudioPosition(msg.Utterance, *msg.Index, *msg.Position)
	default:
		s.hub.sendTo(c, Message{Type: TypeError, Error: "unknown message type: " + msg.Type})
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
