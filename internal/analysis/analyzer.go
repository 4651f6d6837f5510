package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/chatlens/internal/chat"
	"github.com/MikeSquared-Agency/chatlens/internal/events"
	"github.com/MikeSquared-Agency/chatlens/internal/llm"
	"github.com/MikeSquared-Agency/chatlens/internal/settings"
	"github.com/MikeSquared-Agency/chatlens/internal/store"
)

const (
	StatusRunning = "分析中..."
	StatusDone    = "分析完成"
	StatusFailed  = "分析失败"

	// Transcripts longer than this are still sent, with a warning.
	largeTranscriptChars   = 300000
	largeTranscriptWarning = "警告: 数据量过大，可能会超出模型限制，正在尝试发送..."
)

var (
	ErrEmptyQuery = errors.New("请输入分析需求")
	ErrNoEndpoint = errors.New("未配置API URL，请点击右上角配置")
)

// Completer sends a conversation to a chat-completion endpoint.
type Completer interface {
	Complete(ctx context.Context, cfg settings.AIConfig, messages []llm.Message) (string, error)
}

// Snapshots returns the currently published chat data.
type Snapshots interface {
	Snapshot() *chat.Snapshot
}

// History records analysis runs.
type History interface {
	RecordAnalysis(ctx context.Context, run store.AnalysisRun) error
	ListAnalyses(ctx context.Context, limit int) ([]store.AnalysisRun, error)
}

type Publisher interface {
	Publish(subject string, data any) error
}

// Sharer posts finished analyses somewhere people can read them.
type Sharer interface {
	PostAnalysis(ctx context.Context, res *Result) (string, error)
}

// Request is one analysis request. Params holds the endpoint settings sent
// with the request; saved settings take precedence over them.
type Request struct {
	Query  string            `json:"query"`
	Days   int               `json:"days"`
	Params settings.AIConfig `json:"params"`
}

type Result struct {
	ID              uuid.UUID `json:"id"`
	Query           string    `json:"query"`
	Days            int       `json:"days"`
	Model           string    `json:"model"`
	Status          string    `json:"status"`
	Content         string    `json:"content,omitempty"`
	Warning         string    `json:"warning,omitempty"`
	Error           string    `json:"error,omitempty"`
	TranscriptChars int       `json:"transcript_chars"`
	LoadID          string    `json:"load_id"`
	CreatedAt       time.Time `json:"created_at"`
	Duration        string    `json:"duration"`
}

type Analyzer struct {
	snapshots Snapshots
	llm       Completer
	settings  settings.Store
	defaults  settings.AIConfig
	history   History
	publisher Publisher
	sharer    Sharer
	loc       *time.Location
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Analyzer)

// WithPublisher announces finished runs on the event bus.
func WithPublisher(p Publisher) Option { return func(a *Analyzer) { a.publisher = p } }

// WithSharer posts successful runs, e.g. to Slack.
func WithSharer(s Sharer) Option { return func(a *Analyzer) { a.sharer = s } }

func New(snapshots Snapshots, completer Completer, saved settings.Store, defaults settings.AIConfig,
	history History, loc *time.Location, logger *slog.Logger, opts ...Option) *Analyzer {
	if loc == nil {
		loc = time.Local
	}
	a := &Analyzer{
		snapshots: snapshots,
		llm:       completer,
		settings:  saved,
		defaults:  defaults,
		history:   history,
		loc:       loc,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config resolves the endpoint configuration for a request.
func (a *Analyzer) Config(ctx context.Context, params settings.AIConfig) settings.AIConfig {
	var saved settings.AIConfig
	if a.settings != nil {
		var err error
		saved, err = a.settings.LoadAIConfig(ctx)
		if err != nil {
			a.logger.Warn("failed to load saved ai config", "error", err)
		}
	}
	return settings.Resolve(saved, params, a.defaults)
}

// Analyze runs a query against the chat messages of the last req.Days days
// (all messages when Days is 0). Validation failures return ErrEmptyQuery or
// ErrNoEndpoint with no result. A completion failure returns a result with
// StatusFailed together with the error.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	cfg := a.Config(ctx, req.Params)
	if cfg.ProxyURL == "" {
		return nil, ErrNoEndpoint
	}
	days := max(req.Days, 0)

	start := a.now()
	res := &Result{
		ID:        uuid.New(),
		Query:     query,
		Days:      days,
		Model:     cfg.Model,
		Status:    StatusRunning,
		CreatedAt: start.UTC(),
	}

	var sessions []*chat.Session
	if snap := a.snapshots.Snapshot(); snap != nil {
		sessions = snap.Sessions
		res.LoadID = snap.LoadID
	}
	details := chat.BuildMessageDetails(sessions, days, start, a.loc)
	res.TranscriptChars = utf8.RuneCountInString(details)
	if res.TranscriptChars > largeTranscriptChars {
		res.Warning = largeTranscriptWarning
		a.logger.Warn("large transcript", "analysis_id", res.ID, "chars", res.TranscriptChars)
	}

	a.logger.Info("running analysis",
		"analysis_id", res.ID,
		"days", days,
		"model", cfg.Model,
		"transcript_chars", res.TranscriptChars,
	)

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf(userPromptFormat, query, details)},
	}
	content, err := a.llm.Complete(ctx, cfg, messages)
	res.Duration = a.now().Sub(start).Round(time.Millisecond).String()
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		a.logger.Error("analysis failed", "analysis_id", res.ID, "error", err)
		a.finish(ctx, res, start)
		return res, fmt.Errorf("analysis: %w", err)
	}

	res.Status = StatusDone
	res.Content = content
	a.logger.Info("analysis complete", "analysis_id", res.ID, "duration", res.Duration, "chars", utf8.RuneCountInString(content))
	a.finish(ctx, res, start)
	return res, nil
}

// finish records and publishes a run. Failures here are only logged and do
// not change the result returned to the caller.
func (a *Analyzer) finish(ctx context.Context, res *Result, start time.Time) {
	ctx = context.WithoutCancel(ctx)

	if a.history != nil {
		run := store.AnalysisRun{
			ID:              res.ID,
			Query:           res.Query,
			Days:            res.Days,
			Model:           res.Model,
			Status:          res.Status,
			Content:         res.Content,
			Error:           res.Error,
			TranscriptChars: res.TranscriptChars,
			LoadID:          res.LoadID,
			DurationMS:      a.now().Sub(start).Milliseconds(),
			CreatedAt:       res.CreatedAt,
		}
		if err := a.history.RecordAnalysis(ctx, run); err != nil {
			a.logger.Warn("failed to record analysis", "analysis_id", res.ID, "error", err)
		}
	}

	if a.publisher != nil {
		evt := events.AnalysisCompleted{
			AnalysisID: res.ID.String(),
			Status:     res.Status,
			Days:       res.Days,
			Model:      res.Model,
			Error:      res.Error,
			Timestamp:  a.now().UTC().Format(time.RFC3339),
		}
		if err := a.publisher.Publish(events.SubjectAnalysisCompleted, evt); err != nil {
			a.logger.Warn("failed to publish analysis event", "analysis_id", res.ID, "error", err)
		}
	}

	if a.sharer != nil && res.Status == StatusDone {
		if _, err := a.sharer.PostAnalysis(ctx, res); err != nil {
			a.logger.Warn("failed to share analysis", "analysis_id", res.ID, "error", err)
		}
	}
}

// History returns recent runs, newest first.
func (a *Analyzer) History(ctx context.Context, limit int) ([]store.AnalysisRun, error) {
	if a.history == nil {
		return nil, nil
	}
	return a.history.ListAnalyses(ctx, limit)
}
