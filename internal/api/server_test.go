package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/chatlens/internal/analysis"
	"github.com/MikeSquared-Agency/chatlens/internal/chat"
	"github.com/MikeSquared-Agency/chatlens/internal/ingest"
	"github.com/MikeSquared-Agency/chatlens/internal/render"
	"github.com/MikeSquared-Agency/chatlens/internal/settings"
	"github.com/MikeSquared-Agency/chatlens/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSessions struct {
	snap       *chat.Snapshot
	refreshErr error
	refreshes  int
}

func (f *fakeSessions) Snapshot() *chat.Snapshot { return f.snap }

func (f *fakeSessions) Session(_ context.Context, id string) (*chat.Session, error) {
	if f.snap == nil {
		return nil, ingest.ErrSessionNotFound
	}
	sess, ok := f.snap.Find(id)
	if !ok {
		return nil, ingest.ErrSessionNotFound
	}
	return sess, nil
}

func (f *fakeSessions) Refresh(context.Context) (*chat.Snapshot, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.snap, nil
}

type fakeAnalyzer struct {
	result *analysis.Result
	err    error
	got    analysis.Request
	runs   []store.AnalysisRun
	cfg    settings.AIConfig
	params settings.AIConfig
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req analysis.Request) (*analysis.Result, error) {
	f.got = req
	return f.result, f.err
}

func (f *fakeAnalyzer) History(_ context.Context, limit int) ([]store.AnalysisRun, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeAnalyzer) Config(_ context.Context, params settings.AIConfig) settings.AIConfig {
	f.params = params
	return settings.Resolve(settings.AIConfig{}, params, f.cfg)
}

type memSettings struct{ cfg settings.AIConfig }

func (m *memSettings) LoadAIConfig(context.Context) (settings.AIConfig, error) { return m.cfg, nil }
func (m *memSettings) SaveAIConfig(_ context.Context, cfg settings.AIConfig) error {
	m.cfg = cfg
	return nil
}

type testEnv struct {
	srv      *Server
	sessions *fakeSessions
	analyzer *fakeAnalyzer
	settings *memSettings
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	r, err := render.New(time.UTC)
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	snap := chat.DemoSnapshot(time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC))
	snap.LoadID = "demo"
	env := &testEnv{
		sessions: &fakeSessions{snap: snap},
		analyzer: &fakeAnalyzer{cfg: settings.AIConfig{ProxyURL: "https://proxy", Model: "m", APIKey: "sk-secret-1234"}},
		settings: &memSettings{},
	}
	env.srv = NewServer(8760, Deps{
		Sessions: env.sessions,
		Analyzer: env.analyzer,
		Settings: env.settings,
		Renderer: r,
		Location: time.UTC,
		APIToken: token,
		Logger:   discardLogger(),
	})
	return env
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.srv.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("GET", "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" || body["origin"] != "demo" {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("GET", "/nonexistent", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("GET", "/api/v1/sessions", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body sessionsResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Sessions[0].Name != "AL" || body.Sessions[0].Preview != "[Media]" {
		t.Errorf("unexpected sessions %+v", body.Sessions)
	}
	if body.CurrentUser.ID != "章文洁" || body.LoadID != "demo" {
		t.Errorf("unexpected header %+v", body)
	}
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("GET", "/api/v1/sessions/group:101", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sess chat.Session
	if err := json.NewDecoder(w.Body).Decode(&sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.Name != "产品讨论群" || len(sess.Messages) != 2 {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestGetSession_EncodedID(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("GET", "/api/v1/sessions/single:AL%7C%E7%AB%A0%E6%96%87%E6%B4%81", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for encoded id, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetSession_LiteralPercentNotDecodedTwice(t *testing.T) {
	env := newTestEnv(t, "")
	env.sessions.snap.Sessions = append(env.sessions.snap.Sessions,
		&chat.Session{ID: "group:a%41b", Name: "Percent", Type: chat.TypeGroup})

	w := env.do("GET", "/api/v1/sessions/group:a%2541b", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sess chat.Session
	if err := json.NewDecoder(w.Body).Decode(&sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.ID != "group:a%41b" {
		t.Errorf("expected id group:a%%41b, got %q", sess.ID)
	}
}

func TestSessionID_DecodesRawPathOnce(t *testing.T) {
	env := newTestEnv(t, "")

	// Lower-case escapes differ from Go's canonical form, so the request
	// keeps a RawPath and chi routes on the encoded value.
	w := env.do("GET", "/api/v1/sessions/single:AL%7c%E7%AB%A0%E6%96%87%E6%B4%81", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetSession_NotFound(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("GET", "/api/v1/sessions/group:999", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("POST", "/api/v1/refresh", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if env.sessions.refreshes != 1 {
		t.Errorf("expected one refresh, got %d", env.sessions.refreshes)
	}

	env.sessions.refreshErr = errors.New("table gone")
	w = env.do("POST", "/api/v1/refresh", nil, "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 on refresh failure, got %d", w.Code)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("GET", "/api/v1/stats", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["messages"] != float64(6) || body["groups"] != float64(1) {
		t.Errorf("unexpected stats %v", body)
	}
	if s, _ := body["summary"].(string); !strings.HasPrefix(s, "【基本概况】") {
		t.Errorf("unexpected summary %q", s)
	}

	w = env.do("GET", "/api/v1/stats?format=text", nil, "")
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") || !strings.Contains(w.Body.String(), "消息总数：6") {
		t.Errorf("unexpected text stats %q", w.Body.String())
	}
}

func TestAISettings_GetRedactsKey(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("GET", "/api/v1/settings/ai", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "sk-secret-1234") {
		t.Error("api key returned in clear text")
	}
	var cfg settings.AIConfig
	json.NewDecoder(w.Body).Decode(&cfg)
	if cfg.ProxyURL != "https://proxy" || !strings.HasSuffix(cfg.APIKey, "1234") {
		t.Errorf("unexpected settings %+v", cfg)
	}
}

func TestAISettings_PutKeepsKeyWhenBlank(t *testing.T) {
	env := newTestEnv(t, "")
	env.settings.cfg = settings.AIConfig{ProxyURL: "https://old", APIKey: "sk-old"}

	w := env.do("PUT", "/api/v1/settings/ai", map[string]string{"proxyUrl": "https://new", "model": "m2"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	want := settings.AIConfig{ProxyURL: "https://new", Model: "m2", APIKey: "sk-old"}
	if env.settings.cfg != want {
		t.Errorf("expected %+v saved, got %+v", want, env.settings.cfg)
	}
}

func TestAISettings_PutInvalidJSON(t *testing.T) {
	env := newTestEnv(t, "")

	req := httptest.NewRequest("PUT", "/api/v1/settings/ai", strings.NewReader("{"))
	w := httptest.NewRecorder()
	env.srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAnalysis_Success(t *testing.T) {
	env := newTestEnv(t, "")
	env.analyzer.result = &analysis.Result{ID: uuid.New(), Status: analysis.StatusDone, Content: "结论"}

	w := env.do("POST", "/api/v1/analysis", map[string]any{"query": "总结", "days": 7, "aiModel": "x"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if env.analyzer.got.Query != "总结" || env.analyzer.got.Days != 7 || env.analyzer.got.Params.Model != "x" {
		t.Errorf("unexpected request forwarded %+v", env.analyzer.got)
	}
	var res analysis.Result
	json.NewDecoder(w.Body).Decode(&res)
	if res.Content != "结论" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestAnalysis_ValidationError(t *testing.T) {
	env := newTestEnv(t, "")
	env.analyzer.err = analysis.ErrEmptyQuery

	w := env.do("POST", "/api/v1/analysis", map[string]any{"query": ""}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"] != "请输入分析需求" {
		t.Errorf("unexpected error message %q", body["error"])
	}
}

func TestAnalysis_NegativeDays(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("POST", "/api/v1/analysis", map[string]any{"query": "q", "days": -1}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAnalysis_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, "")
	env.analyzer.result = &analysis.Result{Status: analysis.StatusFailed, Error: "api error 500"}
	env.analyzer.err = errors.New("analysis: api error 500")

	w := env.do("POST", "/api/v1/analysis", map[string]any{"query": "q"}, "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	var res analysis.Result
	json.NewDecoder(w.Body).Decode(&res)
	if res.Status != analysis.StatusFailed || res.Error != "api error 500" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestAnalysisHistory(t *testing.T) {
	env := newTestEnv(t, "")
	env.analyzer.runs = []store.AnalysisRun{{Query: "a"}, {Query: "b"}, {Query: "c"}}

	w := env.do("GET", "/api/v1/analysis/history?limit=2", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Runs  []store.AnalysisRun `json:"runs"`
		Count int                 `json:"count"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Count != 2 || body.Runs[0].Query != "a" {
		t.Errorf("unexpected history %+v", body)
	}

	if w := env.do("GET", "/api/v1/analysis/history?limit=zero", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t, "s3cret")

	if w := env.do("GET", "/api/v1/sessions", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w := env.do("GET", "/api/v1/sessions", nil, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}
	if w := env.do("GET", "/api/v1/sessions", nil, "s3cret"); w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}
	if w := env.do("GET", "/health", nil, ""); w.Code != http.StatusOK {
		t.Errorf("health must not require a token, got %d", w.Code)
	}
}

func TestViewerRequiresToken(t *testing.T) {
	env := newTestEnv(t, "s3cret")

	w := env.do("GET", "/sessions/group:101", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "大家看下这个需求") {
		t.Error("thread content leaked without a token")
	}
	if w := env.do("GET", "/", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for session list without token, got %d", w.Code)
	}

	if w := env.do("GET", "/sessions/group:101", nil, "s3cret"); w.Code != http.StatusOK {
		t.Errorf("expected 200 with bearer token, got %d", w.Code)
	}

	w = env.do("GET", "/sessions/group:101?token=wrong", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong query token, got %d", w.Code)
	}

	w = env.do("GET", "/sessions/group:101?token=s3cret", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", w.Code)
	}
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == TokenCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != "s3cret" || !cookie.HttpOnly {
		t.Fatalf("expected http-only token cookie, got %+v", cookie)
	}

	for _, path := range []string{"/sessions/group:101", "/api/v1/sessions"} {
		req := httptest.NewRequest("GET", path, nil)
		req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "s3cret"})
		if w := env.serve(req); w.Code != http.StatusOK {
			t.Errorf("%s: expected 200 with cookie, got %d", path, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "stale"})
	if w := env.serve(req); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong cookie, got %d", w.Code)
	}
}

func TestViewerURLConfigOverrides(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("GET", "/?aiProxyUrl=https://param.example/v1&aiModel=param-model", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	want := settings.AIConfig{ProxyURL: "https://param.example/v1", Model: "param-model"}
	if env.analyzer.params != want {
		t.Errorf("Config params = %+v, want %+v", env.analyzer.params, want)
	}
	body := w.Body.String()
	if !strings.Contains(body, "https://param.example/v1") || !strings.Contains(body, "param-model") {
		t.Error("expected URL overrides in the settings form")
	}
	if !strings.Contains(body, "URLSearchParams(location.search)") {
		t.Error("expected the page script to forward URL overrides")
	}

	w = env.do("GET", "/?aiApiKey=sk-from-url-9876", nil, "")
	if strings.Contains(w.Body.String(), "sk-from-url-9876") {
		t.Error("api key from the URL must be redacted in the page")
	}
}

func TestViewer(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do("GET", "/", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "产品讨论群") {
		t.Error("expected session list in viewer")
	}

	w = env.do("GET", "/sessions/group:101", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "大家看下这个需求") || !strings.Contains(body, "message-right") {
		t.Error("expected selected thread with own message on the right")
	}

	if w := env.do("GET", "/sessions/group:999", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", w.Code)
	}
}
