package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/chatlens/internal/chat"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource serves pre-built pages keyed by their index as page token.
type fakeSource struct {
	mu sync.Mutex

	metas     []chat.FieldMeta
	fieldsErr error
	pages     []Page
	urls      map[string][]string
	urlErrs   map[string]error

	fieldsCalls int
	urlCalls    int

	entered chan struct{} // signalled when Fields is called, if set
	release chan struct{} // Fields blocks until closed, if set
}

func (f *fakeSource) Fields(ctx context.Context) ([]chat.FieldMeta, error) {
	f.mu.Lock()
	f.fieldsCalls++
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fieldsErr != nil {
		return nil, f.fieldsErr
	}
	return f.metas, nil
}

func (f *fakeSource) Records(_ context.Context, token string, _ int) (Page, error) {
	idx := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return Page{}, fmt.Errorf("bad token %q", token)
		}
		idx = n
	}
	if idx >= len(f.pages) {
		return Page{}, nil
	}
	return f.pages[idx], nil
}

func (f *fakeSource) AttachmentURLs(_ context.Context, recordID string, _ []string) ([]string, error) {
	f.mu.Lock()
	f.urlCalls++
	f.mu.Unlock()
	if err := f.urlErrs[recordID]; err != nil {
		return nil, err
	}
	return f.urls[recordID], nil
}

func (f *fakeSource) calls() (fields, urls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fieldsCalls, f.urlCalls
}

// endlessSource always claims there is another page.
type endlessSource struct {
	fakeSource
	requests int
}

func (e *endlessSource) Records(_ context.Context, token string, pageSize int) (Page, error) {
	e.requests++
	rows := make([]chat.Row, pageSize)
	for i := range rows {
		rows[i] = chat.Row{RecordID: fmt.Sprintf("%s-%d", token, i)}
	}
	return Page{Rows: rows, PageToken: strconv.Itoa(e.requests), HasMore: true}, nil
}

var chatMetas = []chat.FieldMeta{
	{ID: "f_sender", Name: "消息发送方id"},
	{ID: "f_receiver", Name: "接收人"},
	{ID: "f_text", Name: "消息内容_文本"},
	{ID: "f_time", Name: "消息发送时间"},
	{ID: "f_media", Name: "消息内容_媒体文件"},
}

func row(id, sender, receiver, text string, ts int64, media string) chat.Row {
	fields := map[string]json.RawMessage{
		"f_sender":   json.RawMessage(strconv.Quote(sender)),
		"f_receiver": json.RawMessage(strconv.Quote(receiver)),
		"f_text":     json.RawMessage(`[{"type":"text","text":` + strconv.Quote(text) + `}]`),
		"f_time":     json.RawMessage(strconv.FormatInt(ts, 10)),
	}
	if media != "" {
		fields["f_media"] = json.RawMessage(media)
	}
	return chat.Row{RecordID: id, Fields: fields}
}

func TestLoadRecords_FollowsPages(t *testing.T) {
	src := &fakeSource{pages: []Page{
		{Rows: []chat.Row{{RecordID: "a"}, {RecordID: "b"}}, PageToken: "1", HasMore: true},
		{Rows: []chat.Row{{RecordID: "c"}}, PageToken: "2", HasMore: true},
		{Rows: []chat.Row{{RecordID: "d"}}, HasMore: false},
	}}

	rows, err := LoadRecords(context.Background(), src, 2, 100, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 4 || rows[3].RecordID != "d" {
		t.Errorf("expected 4 rows ending with d, got %+v", rows)
	}
}

func TestLoadRecords_CeilingStopsEndlessSource(t *testing.T) {
	src := &endlessSource{}

	rows, err := LoadRecords(context.Background(), src, 10, 35, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 35 {
		t.Errorf("expected rows capped at 35, got %d", len(rows))
	}
	if src.requests != 4 {
		t.Errorf("expected 4 page requests, got %d", src.requests)
	}
}

func TestLoadRecords_MissingTokenStops(t *testing.T) {
	src := &fakeSource{pages: []Page{
		{Rows: []chat.Row{{RecordID: "a"}}, HasMore: true},
	}}
	rows, err := LoadRecords(context.Background(), src, 10, 100, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected 1 row, got %d", len(rows))
	}
}

type failingSource struct{ fakeSource }

func (*failingSource) Records(context.Context, string, int) (Page, error) {
	return Page{}, errors.New("boom")
}

func TestLoadRecords_PropagatesError(t *testing.T) {
	_, err := LoadRecords(context.Background(), &failingSource{}, 10, 100, discardLogger())
	if err == nil {
		t.Fatal("expected error from failing source")
	}
}

func TestLoader_Load(t *testing.T) {
	src := &fakeSource{
		metas: chatMetas,
		pages: []Page{{Rows: []chat.Row{
			row("r1", "me", "alice", "hello", 1000, ""),
			row("r2", "alice", "me", "hi", 2000, ""),
			row("r3", "bob", "me", "yo", 3000, ""),
		}}},
	}
	l := NewLoader(src, 200, 1000, time.UTC, discardLogger())

	snap, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Origin != chat.OriginTable || snap.LoadID == "" {
		t.Errorf("unexpected snapshot header: %+v", snap)
	}
	if snap.CurrentUserID != "me" {
		t.Errorf("expected current user me, got %q", snap.CurrentUserID)
	}
	if len(snap.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(snap.Sessions))
	}
	if snap.Sessions[0].Name != "bob" {
		t.Errorf("expected most recent session first, got %q", snap.Sessions[0].Name)
	}
	if !snap.Fields.Has(chat.FieldContentMedia) {
		t.Error("expected media column in field map")
	}
}

func TestLoader_SchemaMismatch(t *testing.T) {
	src := &fakeSource{metas: []chat.FieldMeta{{ID: "x", Name: "Title"}}}
	l := NewLoader(src, 200, 1000, time.UTC, discardLogger())

	_, err := l.Load(context.Background())
	if !errors.Is(err, chat.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}
