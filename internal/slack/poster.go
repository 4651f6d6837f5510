package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/chatlens/internal/analysis"
)

const (
	defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

	// Longer results are posted in full as a thread reply.
	previewRunes = 600
	// Slack rejects message text above 40k characters.
	maxTextRunes = 39000
)

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

var _ analysis.Sharer = (*Poster)(nil)

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostAnalysis posts an analysis summary to the channel and returns the
// message timestamp. Results too long for the summary follow in a thread.
func (p *Poster) PostAnalysis(ctx context.Context, res *analysis.Result) (string, error) {
	text := formatAnalysisMessage(res)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("Analysis %s | model %s | %s", res.ID, res.Model, res.Duration),
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	p.logger.Info("posted analysis to slack", "ts", ts, "analysis_id", res.ID)

	if utf8.RuneCountInString(res.Content) > previewRunes {
		if err := p.PostThread(ctx, ts, truncate(res.Content, maxTextRunes)); err != nil {
			p.logger.Warn("failed to post full analysis", "ts", ts, "error", err)
		}
	}
	return ts, nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatAnalysisMessage(res *analysis.Result) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Query:* %s\n", res.Query)
	if res.Days > 0 {
		fmt.Fprintf(&sb, "*Range:* last %d days\n", res.Days)
	} else {
		sb.WriteString("*Range:* all messages\n")
	}
	fmt.Fprintf(&sb, "*Status:* %s\n", res.Status)
	if res.Warning != "" {
		fmt.Fprintf(&sb, "_%s_\n", res.Warning)
	}
	sb.WriteString("\n")

	switch {
	case res.Error != "":
		fmt.Fprintf(&sb, "```%s```", res.Error)
	case res.Content == "":
		sb.WriteString("_Empty response._")
	default:
		sb.WriteString(truncate(res.Content, previewRunes))
	}

	return sb.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
