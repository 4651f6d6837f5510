package bitable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	larkdrive "github.com/larksuite/oapi-sdk-go/v3/service/drive/v1"

	"github.com/MikeSquared-Agency/chatlens/internal/chat"
	"github.com/MikeSquared-Agency/chatlens/internal/ingest"
)

const (
	DefaultBaseURL = lark.FeishuBaseUrl

	fieldsPageSize = 100
	mediaBatchSize = 5
	requestTimeout = 30 * time.Second
)

// ErrNotConfigured is returned by every call when credentials or the table
// are missing.
var ErrNotConfigured = errors.New("bitable table not configured")

// Config identifies the table and the credentials used to read it. Either
// AppID/AppSecret (tenant token) or a static AccessToken is required.
type Config struct {
	BaseURL     string
	AppID       string
	AppSecret   string
	AccessToken string
	AppToken    string // the base
	TableID     string
	ViewID      string // optional, the view whose rows are read
}

// Client reads a Bitable table through the Open API SDK. The SDK fetches and
// caches the tenant access token.
type Client struct {
	cfg    Config
	lark   *lark.Client
	logger *slog.Logger

	mu       sync.Mutex
	fieldIDs map[string]string // column title -> field id
}

var _ ingest.Source = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	opts := []lark.ClientOptionFunc{
		lark.WithOpenBaseUrl(cfg.BaseURL),
		lark.WithReqTimeout(requestTimeout),
		lark.WithLogger(sdkLogger{logger}),
		lark.WithLogLevel(larkcore.LogLevelWarn),
	}
	if cfg.AccessToken != "" {
		opts = append(opts, lark.WithEnableTokenCache(false))
	}

	return &Client{
		cfg:    cfg,
		lark:   lark.NewClient(cfg.AppID, cfg.AppSecret, opts...),
		logger: logger,
	}
}

// Configured reports whether enough settings are present to reach a table.
func (c *Client) Configured() bool {
	hasAuth := c.cfg.AccessToken != "" || (c.cfg.AppID != "" && c.cfg.AppSecret != "")
	return hasAuth && c.cfg.AppToken != "" && c.cfg.TableID != ""
}

// requestOptions supplies the static token when one is configured; otherwise
// the SDK uses its tenant token.
func (c *Client) requestOptions() ([]larkcore.RequestOptionFunc, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if c.cfg.AccessToken != "" {
		return []larkcore.RequestOptionFunc{larkcore.WithTenantAccessToken(c.cfg.AccessToken)}, nil
	}
	return nil, nil
}

// Fields lists every column of the table.
func (c *Client) Fields(ctx context.Context) ([]chat.FieldMeta, error) {
	opts, err := c.requestOptions()
	if err != nil {
		return nil, err
	}

	var metas []chat.FieldMeta
	pageToken := ""
	for {
		b := larkbitable.NewListAppTableFieldReqBuilder().
			AppToken(c.cfg.AppToken).
			TableId(c.cfg.TableID).
			PageSize(fieldsPageSize)
		if pageToken != "" {
			b.PageToken(pageToken)
		}
		if c.cfg.ViewID != "" {
			b.ViewId(c.cfg.ViewID)
		}

		resp, err := c.lark.Bitable.V1.AppTableField.List(ctx, b.Build(), opts...)
		if err != nil {
			return nil, fmt.Errorf("list fields: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("list fields: %w", apiError(resp.Code, resp.Msg, resp.RequestId()))
		}
		if resp.Data == nil {
			break
		}
		for _, it := range resp.Data.Items {
			metas = append(metas, chat.FieldMeta{
				ID:   larkcore.StringValue(it.FieldId),
				Name: larkcore.StringValue(it.FieldName),
			})
		}
		next := larkcore.StringValue(resp.Data.PageToken)
		if !larkcore.BoolValue(resp.Data.HasMore) || next == "" {
			break
		}
		pageToken = next
	}

	ids := make(map[string]string, len(metas))
	for _, m := range metas {
		ids[m.Name] = m.ID
	}
	c.mu.Lock()
	c.fieldIDs = ids
	c.mu.Unlock()

	return metas, nil
}

// Records returns one page of rows of the configured view. The API keys
// cells by column title; they are re-keyed by field id here.
func (c *Client) Records(ctx context.Context, pageToken string, pageSize int) (ingest.Page, error) {
	opts, err := c.requestOptions()
	if err != nil {
		return ingest.Page{}, err
	}
	ids, err := c.columnIDs(ctx)
	if err != nil {
		return ingest.Page{}, err
	}

	b := larkbitable.NewListAppTableRecordReqBuilder().
		AppToken(c.cfg.AppToken).
		TableId(c.cfg.TableID).
		PageSize(pageSize)
	if pageToken != "" {
		b.PageToken(pageToken)
	}
	if c.cfg.ViewID != "" {
		b.ViewId(c.cfg.ViewID)
	}

	resp, err := c.lark.Bitable.V1.AppTableRecord.List(ctx, b.Build(), opts...)
	if err != nil {
		return ingest.Page{}, fmt.Errorf("list records: %w", err)
	}
	if !resp.Success() {
		return ingest.Page{}, fmt.Errorf("list records: %w", apiError(resp.Code, resp.Msg, resp.RequestId()))
	}
	if resp.Data == nil {
		return ingest.Page{}, nil
	}

	rows := make([]chat.Row, 0, len(resp.Data.Items))
	for _, it := range resp.Data.Items {
		fields := make(map[string]json.RawMessage, len(it.Fields))
		for name, v := range it.Fields {
			raw, err := json.Marshal(v)
			if err != nil {
				c.logger.Warn("skipping undecodable cell", "record_id", larkcore.StringValue(it.RecordId), "field", name, "error", err)
				continue
			}
			if id, ok := ids[name]; ok {
				fields[id] = raw
			} else {
				fields[name] = raw
			}
		}
		rows = append(rows, chat.Row{RecordID: larkcore.StringValue(it.RecordId), Fields: fields})
	}

	return ingest.Page{
		Rows:      rows,
		PageToken: larkcore.StringValue(resp.Data.PageToken),
		HasMore:   larkcore.BoolValue(resp.Data.HasMore),
		Total:     larkcore.IntValue(resp.Data.Total),
	}, nil
}

// AttachmentURLs resolves temporary download URLs for attachment tokens. The
// result has one entry per token; tokens the API does not return map to "".
func (c *Client) AttachmentURLs(ctx context.Context, recordID string, tokens []string) ([]string, error) {
	opts, err := c.requestOptions()
	if err != nil {
		return nil, err
	}

	byToken := make(map[string]string, len(tokens))
	for start := 0; start < len(tokens); start += mediaBatchSize {
		end := min(start+mediaBatchSize, len(tokens))

		req := larkdrive.NewBatchGetTmpDownloadUrlMediaReqBuilder().
			FileTokens(tokens[start:end]).
			Build()
		resp, err := c.lark.Drive.V1.Media.BatchGetTmpDownloadUrl(ctx, req, opts...)
		if err != nil {
			return nil, fmt.Errorf("attachment urls for %s: %w", recordID, err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("attachment urls for %s: %w", recordID, apiError(resp.Code, resp.Msg, resp.RequestId()))
		}
		if resp.Data == nil {
			continue
		}
		for _, u := range resp.Data.TmpDownloadUrls {
			byToken[larkcore.StringValue(u.FileToken)] = larkcore.StringValue(u.TmpDownloadUrl)
		}
	}

	urls := make([]string, len(tokens))
	for i, tok := range tokens {
		urls[i] = byToken[tok]
	}
	return urls, nil
}

func (c *Client) columnIDs(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	ids := c.fieldIDs
	c.mu.Unlock()
	if ids != nil {
		return ids, nil
	}
	if _, err := c.Fields(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fieldIDs, nil
}

func apiError(code int, msg, requestID string) error {
	return fmt.Errorf("api error: code %d: %s (request %s)", code, msg, requestID)
}

// sdkLogger routes SDK log output through slog.
type sdkLogger struct {
	logger *slog.Logger
}

func (l sdkLogger) Debug(ctx context.Context, args ...interface{}) {
	l.logger.DebugContext(ctx, fmt.Sprint(args...), "component", "lark")
}

func (l sdkLogger) Info(ctx context.Context, args ...interface{}) {
	l.logger.InfoContext(ctx, fmt.Sprint(args...), "component", "lark")
}

func (l sdkLogger) Warn(ctx context.Context, args ...interface{}) {
	l.logger.WarnContext(ctx, fmt.Sprint(args...), "component", "lark")
}

func (l sdkLogger) Error(ctx context.Context, args ...interface{}) {
	l.logger.ErrorContext(ctx, fmt.Sprint(args...), "component", "lark")
}
