package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/chatlens/internal/analysis"
	"github.com/MikeSquared-Agency/chatlens/internal/chat"
	"github.com/MikeSquared-Agency/chatlens/internal/ingest"
	"github.com/MikeSquared-Agency/chatlens/internal/render"
	"github.com/MikeSquared-Agency/chatlens/internal/settings"
	"github.com/MikeSquared-Agency/chatlens/internal/store"
)

// Sessions serves the loaded chat data. *ingest.Service satisfies it.
type Sessions interface {
	Snapshot() *chat.Snapshot
	Session(ctx context.Context, id string) (*chat.Session, error)
	Refresh(ctx context.Context) (*chat.Snapshot, error)
}

// Analyzer runs analysis requests. *analysis.Analyzer satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
	History(ctx context.Context, limit int) ([]store.AnalysisRun, error)
	Config(ctx context.Context, params settings.AIConfig) settings.AIConfig
}

type Deps struct {
	Sessions Sessions
	Analyzer Analyzer
	Settings settings.Store
	Renderer *render.Renderer
	Location *time.Location
	APIToken string
	Logger   *slog.Logger
}

type Server struct {
	router *chi.Mux
	port   int
	http   *http.Server

	sessions Sessions
	analyzer Analyzer
	settings settings.Store
	renderer *render.Renderer
	loc      *time.Location
	logger   *slog.Logger
}

func NewServer(port int, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:   router,
		port:     port,
		sessions: deps.Sessions,
		analyzer: deps.Analyzer,
		settings: deps.Settings,
		renderer: deps.Renderer,
		loc:      loc,
		logger:   logger,
	}

	auth := BearerAuthMiddleware(deps.APIToken)

	router.Get("/health", s.health)
	router.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/", s.viewer)
		r.Get("/sessions/{id}", s.viewer)
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth)
		r.Get("/sessions", s.listSessions)
		r.Get("/sessions/{id}", s.getSession)
		r.Post("/refresh", s.refresh)
		r.Get("/stats", s.stats)
		r.Get("/settings/ai", s.getAISettings)
		r.Put("/settings/ai", s.putAISettings)
		r.Post("/analysis", s.analyze)
		r.Get("/analysis/history", s.analysisHistory)
	})

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if snap := s.sessions.Snapshot(); snap != nil {
		body["origin"] = snap.Origin
		body["load_id"] = snap.LoadID
		body["sessions"] = len(snap.Sessions)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) viewer(w http.ResponseWriter, r *http.Request) {
	snap := s.sessions.Snapshot()

	var selected *chat.Session
	if id := sessionID(r); id != "" {
		sess, err := s.sessions.Session(r.Context(), id)
		if errors.Is(err, ingest.ErrSessionNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.logger.Error("failed to open session", "session_id", id, "error", err)
			http.Error(w, "failed to open session", http.StatusInternalServerError)
			return
		}
		selected = sess
	}

	cfg := s.analyzer.Config(r.Context(), configParams(r.URL.Query()))
	page := s.renderer.BuildPage(snap, selected, cfg)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.renderer.Page(w, page); err != nil {
		s.logger.Error("failed to render viewer", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

type sessionSummary struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Avatar       string        `json:"avatar,omitempty"`
	Type         chat.ChatType `json:"type"`
	Messages     int           `json:"messages"`
	Participants []string      `json:"participants"`
	LastTime     int64         `json:"last_time"`
	Preview      string        `json:"preview"`
}

type sessionsResponse struct {
	LoadID      string           `json:"load_id"`
	Origin      chat.Origin      `json:"origin"`
	LoadedAt    time.Time        `json:"loaded_at"`
	CurrentUser chat.Profile     `json:"current_user"`
	Sessions    []sessionSummary `json:"sessions"`
	Count       int              `json:"count"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	snap := s.sessions.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no data loaded yet")
		return
	}

	out := make([]sessionSummary, 0, len(snap.Sessions))
	for _, sess := range snap.Sessions {
		out = append(out, sessionSummary{
			ID:           sess.ID,
			Name:         sess.Name,
			Avatar:       sess.Avatar,
			Type:         sess.Type,
			Messages:     len(sess.Messages),
			Participants: sess.Participants,
			LastTime:     sess.LastTime,
			Preview:      render.Preview(sess),
		})
	}

	writeJSON(w, http.StatusOK, sessionsResponse{
		LoadID:      snap.LoadID,
		Origin:      snap.Origin,
		LoadedAt:    snap.LoadedAt,
		CurrentUser: snap.CurrentUser,
		Sessions:    out,
		Count:       len(out),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	sess, err := s.sessions.Session(r.Context(), id)
	if errors.Is(err, ingest.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to open session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Refresh(r.Context())
	if err != nil {
		s.logger.Warn("refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("refresh failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"load_id":  snap.LoadID,
		"origin":   snap.Origin,
		"sessions": len(snap.Sessions),
		"messages": snap.MessageCount(),
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	snap := s.sessions.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no data loaded yet")
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(chat.BuildDataSummary(snap.Sessions, s.loc)))
		return
	}

	groups := 0
	for _, sess := range snap.Sessions {
		if sess.Type == chat.TypeGroup {
			groups++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"load_id":  snap.LoadID,
		"origin":   snap.Origin,
		"sessions": len(snap.Sessions),
		"groups":   groups,
		"singles":  len(snap.Sessions) - groups,
		"messages": snap.MessageCount(),
		"summary":  chat.BuildDataSummary(snap.Sessions, s.loc),
	})
}

func (s *Server) getAISettings(w http.ResponseWriter, r *http.Request) {
	cfg := s.analyzer.Config(r.Context(), settings.AIConfig{})
	writeJSON(w, http.StatusOK, cfg.Redacted())
}

func (s *Server) putAISettings(w http.ResponseWriter, r *http.Request) {
	var cfg settings.AIConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	// A blank key keeps the saved one, so the viewer can save other
	// fields without knowing the key.
	if cfg.APIKey == "" {
		saved, err := s.settings.LoadAIConfig(r.Context())
		if err == nil {
			cfg.APIKey = saved.APIKey
		}
	}

	if err := s.settings.SaveAIConfig(r.Context(), cfg); err != nil {
		s.logger.Error("failed to save ai config", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	s.logger.Info("ai config saved", "proxy_url", cfg.ProxyURL, "model", cfg.Model)
	writeJSON(w, http.StatusOK, cfg.Redacted())
}

type analysisRequest struct {
	Query      string `json:"query"`
	Days       int    `json:"days"`
	AIProxyURL string `json:"aiProxyUrl,omitempty"`
	AIModel    string `json:"aiModel,omitempty"`
	AIAPIKey   string `json:"aiApiKey,omitempty"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Days < 0 {
		writeError(w, http.StatusBadRequest, "days must not be negative")
		return
	}

	res, err := s.analyzer.Analyze(r.Context(), analysis.Request{
		Query: req.Query,
		Days:  req.Days,
		Params: settings.AIConfig{
			ProxyURL: req.AIProxyURL,
			Model:    req.AIModel,
			APIKey:   req.AIAPIKey,
		},
	})
	switch {
	case errors.Is(err, analysis.ErrEmptyQuery), errors.Is(err, analysis.ErrNoEndpoint):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil && res != nil:
		writeJSON(w, http.StatusBadGateway, res)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) analysisHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 200)
	}

	runs, err := s.analyzer.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list analyses", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}
	if runs == nil {
		runs = []store.AnalysisRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// configParams reads endpoint overrides from viewer URL parameters.
func configParams(q url.Values) settings.AIConfig {
	return settings.AIConfig{
		ProxyURL: q.Get("aiProxyUrl"),
		Model:    q.Get("aiModel"),
		APIKey:   q.Get("aiApiKey"),
	}
}

// sessionID returns the decoded {id} route parameter. chi matches against
// RawPath when the request has one, leaving the value percent-encoded;
// otherwise it is already decoded and must not be unescaped again.
func sessionID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if r.URL.RawPath == "" {
		return id
	}
	if unescaped, err := url.PathUnescape(id); err == nil {
		return unescaped
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
