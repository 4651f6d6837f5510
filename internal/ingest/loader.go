package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/chatlens/internal/chat"
)

const (
	DefaultPageSize   = 200
	DefaultMaxRecords = 1000000
)

// LoadRecords pages through every row of the source, one page at a time,
// until the source reports no more pages or maxRecords rows have been read.
func LoadRecords(ctx context.Context, src Source, pageSize, maxRecords int, logger *slog.Logger) ([]chat.Row, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}

	var rows []chat.Row
	token := ""
	for len(rows) < maxRecords {
		page, err := src.Records(ctx, token, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", len(rows)/pageSize+1, err)
		}
		rows = append(rows, page.Rows...)
		logger.Debug("loaded records", "count", len(rows), "total", page.Total)

		if !page.HasMore {
			break
		}
		if page.PageToken == "" {
			logger.Warn("source reported more pages without a page token, stopping", "count", len(rows))
			break
		}
		token = page.PageToken
	}

	if len(rows) > maxRecords {
		rows = rows[:maxRecords]
	}
	return rows, nil
}

// Loader builds snapshots from a table source.
type Loader struct {
	src        Source
	pageSize   int
	maxRecords int
	loc        *time.Location
	logger     *slog.Logger
	now        func() time.Time
}

func NewLoader(src Source, pageSize, maxRecords int, loc *time.Location, logger *slog.Logger) *Loader {
	if loc == nil {
		loc = time.Local
	}
	return &Loader{
		src:        src,
		pageSize:   pageSize,
		maxRecords: maxRecords,
		loc:        loc,
		logger:     logger,
		now:        time.Now,
	}
}

// Load resolves the table columns, reads every row, and assembles the
// sessions. It returns chat.ErrSchemaMismatch when the table has none of the
// expected columns.
func (l *Loader) Load(ctx context.Context) (*chat.Snapshot, error) {
	metas, err := l.src.Fields(ctx)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}

	names := make([]string, 0, len(metas))
	for _, m := range metas {
		names = append(names, m.Name)
	}
	l.logger.Info("table fields", "fields", names)

	fm, missing, err := chat.ResolveFields(metas)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		l.logger.Warn("some fields were not found", "missing", missing)
	}

	rows, err := LoadRecords(ctx, l.src, l.pageSize, l.maxRecords, l.logger)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	l.logger.Info("finished loading records", "count", len(rows))

	entries := make([]chat.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, chat.DecodeRow(row, fm, l.loc))
	}

	snap := chat.Assemble(entries)
	snap.LoadID = uuid.NewString()
	snap.LoadedAt = l.now()
	snap.Origin = chat.OriginTable
	snap.Fields = fm
	return snap, nil
}
