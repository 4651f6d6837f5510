package ingest

import (
	"context"

	"github.com/MikeSquared-Agency/chatlens/internal/chat"
)

// Page is one page of table rows.
type Page struct {
	Rows      []chat.Row
	PageToken string
	HasMore   bool
	Total     int
}

// Source is read-only access to the active view of the chat-export table.
type Source interface {
	// Fields lists the columns of the table.
	Fields(ctx context.Context) ([]chat.FieldMeta, error)
	// Records returns the page starting at pageToken ("" for the first page).
	Records(ctx context.Context, pageToken string, pageSize int) (Page, error)
	// AttachmentURLs resolves download URLs for the attachments of a row, in
	// the same order as tokens.
	AttachmentURLs(ctx context.Context, recordID string, tokens []string) ([]string, error)
}
