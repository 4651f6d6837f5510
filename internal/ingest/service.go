package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MikeSquared-Agency/chatlens/internal/chat"
	"github.com/MikeSquared-Agency/chatlens/internal/events"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

const mediaConcurrency = 8

// Publisher announces loads to other services. *events.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Service owns the currently published snapshot. Loads replace the whole
// snapshot; readers never see a partially built one.
type Service struct {
	loader      *Loader
	src         Source
	loadTimeout time.Duration
	publisher   Publisher
	logger      *slog.Logger
	now         func() time.Time

	mu   sync.RWMutex
	snap *chat.Snapshot

	refreshes singleflight.Group

	mediaMu sync.Mutex
	media   map[string][]string // record id -> attachment URLs
}

// NewService creates a service. publisher may be nil.
func NewService(loader *Loader, loadTimeout time.Duration, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		loader:      loader,
		src:         loader.src,
		loadTimeout: loadTimeout,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
		media:       make(map[string][]string),
	}
}

// Start performs the initial load. If the table cannot be loaded within the
// load timeout, or is not a chat export, the demo data is published instead.
func (s *Service) Start(ctx context.Context) *chat.Snapshot {
	snap, err := s.load(ctx)
	if err != nil {
		if errors.Is(err, chat.ErrSchemaMismatch) {
			s.logger.Info("table does not look like a chat export, using demo data")
		} else {
			s.logger.Warn("failed to load table data, using demo data", "error", err)
		}
		snap = chat.DemoSnapshot(s.now())
		snap.LoadID = "demo"
	}
	s.publish(snap)
	return snap
}

// Refresh reloads the table from scratch. Concurrent callers share a single
// in-flight load. On failure the previous snapshot stays published.
func (s *Service) Refresh(ctx context.Context) (*chat.Snapshot, error) {
	v, err, shared := s.refreshes.Do("refresh", func() (any, error) {
		snap, err := s.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.publish(snap)
		return snap, nil
	})
	if err != nil {
		s.logger.Error("refresh failed", "error", err)
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if shared {
		s.logger.Debug("joined in-flight refresh")
	}
	return v.(*chat.Snapshot), nil
}

func (s *Service) load(ctx context.Context) (*chat.Snapshot, error) {
	if s.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.loadTimeout)
		defer cancel()
	}
	return s.loader.Load(ctx)
}

func (s *Service) publish(snap *chat.Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.mediaMu.Lock()
	s.media = make(map[string][]string)
	s.mediaMu.Unlock()

	s.logger.Info("sessions loaded",
		"load_id", snap.LoadID,
		"origin", snap.Origin,
		"sessions", len(snap.Sessions),
		"messages", snap.MessageCount(),
		"current_user", snap.CurrentUserID,
	)

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(events.SubjectSessionsLoaded, events.SessionsLoaded{
		LoadID:      snap.LoadID,
		Origin:      string(snap.Origin),
		Sessions:    len(snap.Sessions),
		Messages:    snap.MessageCount(),
		CurrentUser: snap.CurrentUserID,
		Timestamp:   s.now().UTC().Format(time.RFC3339),
	}); err != nil {
		s.logger.Warn("failed to publish load event", "error", err)
	}
}

// Snapshot returns the currently published snapshot.
func (s *Service) Snapshot() *chat.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Session returns a copy of the session with attachment URLs filled in.
// URLs are resolved the first time a session is opened, concurrently for
// all of its messages, and cached until the next load. A failed resolution
// is logged and leaves that message without URLs.
func (s *Service) Session(ctx context.Context, id string) (*chat.Session, error) {
	snap := s.Snapshot()
	if snap == nil {
		return nil, ErrSessionNotFound
	}
	orig, ok := snap.Find(id)
	if !ok {
		return nil, ErrSessionNotFound
	}

	sess := *orig
	sess.Messages = make([]*chat.Message, len(orig.Messages))
	for i, m := range orig.Messages {
		cp := *m
		sess.Messages[i] = &cp
	}

	if snap.Origin != chat.OriginTable || !snap.Fields.Has(chat.FieldContentMedia) {
		return &sess, nil
	}

	var pending []*chat.Message
	s.mediaMu.Lock()
	for _, m := range sess.Messages {
		if !m.HasMedia() {
			continue
		}
		if urls, ok := s.media[m.RecordID]; ok {
			m.MediaURLs = urls
		} else {
			pending = append(pending, m)
		}
	}
	s.mediaMu.Unlock()

	if len(pending) == 0 {
		return &sess, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mediaConcurrency)
	for _, m := range pending {
		g.Go(func() error {
			tokens := make([]string, len(m.Media))
			for i, a := range m.Media {
				tokens[i] = a.Token
			}
			urls, err := s.src.AttachmentURLs(gctx, m.RecordID, tokens)
			if err != nil {
				s.logger.Warn("failed to fetch attachment urls", "record_id", m.RecordID, "error", err)
				return nil
			}
			m.MediaURLs = urls

			s.mediaMu.Lock()
			s.media[m.RecordID] = urls
			s.mediaMu.Unlock()
			return nil
		})
	}
	g.Wait()

	return &sess, nil
}
