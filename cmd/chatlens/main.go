package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/MikeSquared-Agency/chatlens/internal/analysis"
	"github.com/MikeSquared-Agency/chatlens/internal/api"
	"github.com/MikeSquared-Agency/chatlens/internal/bitable"
	"github.com/MikeSquared-Agency/chatlens/internal/config"
	"github.com/MikeSquared-Agency/chatlens/internal/events"
	"github.com/MikeSquared-Agency/chatlens/internal/ingest"
	"github.com/MikeSquared-Agency/chatlens/internal/llm"
	"github.com/MikeSquared-Agency/chatlens/internal/render"
	"github.com/MikeSquared-Agency/chatlens/internal/settings"
	"github.com/MikeSquared-Agency/chatlens/internal/slack"
	"github.com/MikeSquared-Agency/chatlens/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	loc := cfg.Location()

	slog.Info("chatlens starting", "port", cfg.Port, "timezone", loc.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// NATS (optional)
	var bus *events.Client
	if cfg.NatsURL != "" {
		var err error
		bus, err = events.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer bus.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured, running without events")
	}
	var ingestPub ingest.Publisher
	var analysisOpts []analysis.Option
	if bus != nil {
		ingestPub = bus
		analysisOpts = append(analysisOpts, analysis.WithPublisher(bus))
	}

	// Settings and history: Postgres when configured, otherwise a local file
	// and in-memory history.
	var settingsStore settings.Store
	var history analysis.History
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		settingsStore, history = db, db
		slog.Info("database connected")
	} else {
		fs := settings.NewFileStore(cfg.SettingsPath)
		settingsStore, history = fs, analysis.NewMemoryHistory()
		slog.Info("using file settings", "path", fs.Path())
	}

	// Table source
	table := bitable.NewClient(bitable.Config{
		BaseURL:     cfg.LarkBaseURL,
		AppID:       cfg.LarkAppID,
		AppSecret:   cfg.LarkAppSecret,
		AccessToken: cfg.LarkAccessToken,
		AppToken:    cfg.BitableAppToken,
		TableID:     cfg.BitableTableID,
		ViewID:      cfg.BitableViewID,
	}, slog.Default())
	if !table.Configured() {
		slog.Warn("bitable table not configured, demo data will be shown")
	}

	loader := ingest.NewLoader(table, cfg.PageSize, cfg.MaxRecords, loc, slog.Default())
	svc := ingest.NewService(loader, cfg.StartupTimeout, ingestPub, slog.Default())
	snap := svc.Start(ctx)
	slog.Info("initial data ready",
		"origin", snap.Origin,
		"sessions", len(snap.Sessions),
		"messages", snap.MessageCount(),
		"current_user", snap.CurrentUserID,
	)

	if bus != nil {
		err := bus.OnRefreshRequested(func(req events.RefreshRequest) {
			slog.Info("refresh requested", "by", req.RequestedBy, "reason", req.Reason)
			if _, err := svc.Refresh(ctx); err != nil {
				slog.Warn("requested refresh failed", "error", err)
			}
		})
		if err != nil {
			slog.Error("failed to subscribe to refresh requests", "error", err)
			os.Exit(1)
		}
	}

	// Slack poster (optional, shares finished analyses)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		analysisOpts = append(analysisOpts, analysis.WithSharer(slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())))
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	}

	defaults := settings.AIConfig{ProxyURL: cfg.AIProxyURL, Model: cfg.AIModel, APIKey: cfg.AIAPIKey}
	analyzer := analysis.New(svc, llm.NewClient(cfg.AITimeout), settingsStore, defaults, history, loc, slog.Default(), analysisOpts...)

	renderer, err := render.New(loc)
	if err != nil {
		slog.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, api.Deps{
		Sessions: svc,
		Analyzer: analyzer,
		Settings: settingsStore,
		Renderer: renderer,
		Location: loc,
		APIToken: cfg.APIToken,
		Logger:   slog.Default(),
	})
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	slog.Info("chatlens ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	cancel()
	slog.Info("chatlens stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
