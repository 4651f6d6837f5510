package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectSessionsLoaded is published after every successful load.
	SubjectSessionsLoaded = "chatlens.sessions.loaded"
	// SubjectRefreshRequested triggers a reload when received.
	SubjectRefreshRequested = "chatlens.refresh.requested"
	// SubjectAnalysisCompleted is published after every analysis run.
	SubjectAnalysisCompleted = "chatlens.analysis.completed"
)

// SessionsLoaded is the payload of SubjectSessionsLoaded.
type SessionsLoaded struct {
	LoadID      string `json:"load_id"`
	Origin      string `json:"origin"`
	Sessions    int    `json:"sessions"`
	Messages    int    `json:"messages"`
	CurrentUser string `json:"current_user"`
	Timestamp   string `json:"timestamp"`
}

// RefreshRequest is the payload of SubjectRefreshRequested. An empty body is
// accepted as well.
type RefreshRequest struct {
	RequestedBy string `json:"requested_by,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// AnalysisCompleted is the payload of SubjectAnalysisCompleted.
type AnalysisCompleted struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
	Days       int    `json:"days"`
	Model      string `json:"model"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("chatlens"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// OnRefreshRequested calls fn for every refresh request. Malformed payloads
// are logged and treated as an anonymous request.
func (c *Client) OnRefreshRequested(fn func(RefreshRequest)) error {
	return c.Subscribe(SubjectRefreshRequested, func(_ string, data []byte) {
		var req RefreshRequest
		if len(data) > 0 {
			if err := json.Unmarshal(data, &req); err != nil {
				c.logger.Warn("malformed refresh request", "error", err)
			}
		}
		fn(req)
	})
}

// Close unsubscribes and drains the connection so in-flight publishes are
// flushed.
func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
