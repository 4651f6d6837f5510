package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"time"

	"github.com/MikeSquared-Agency/chatlens/internal/analysis"
	"github.com/MikeSquared-Agency/chatlens/internal/chat"
	"github.com/MikeSquared-Agency/chatlens/internal/settings"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"sessionPath": SessionPath,
}

// SessionPath is the viewer URL of a session.
func SessionPath(id string) string {
	return "/sessions/" + url.PathEscape(id)
}

type Renderer struct {
	tmpl *template.Template
	loc  *time.Location
}

func New(loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.Local
	}
	tmpl, err := template.New("page.html").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl, loc: loc}, nil
}

// BuildPage assembles the viewer for a snapshot. selected may be nil; its
// messages may carry resolved attachment URLs the snapshot copy lacks.
func (r *Renderer) BuildPage(snap *chat.Snapshot, selected *chat.Session, cfg settings.AIConfig) Page {
	p := Page{
		DayOptions: DayOptions,
		AIConfig:   cfg.Redacted(),
		StatusDone: analysis.StatusDone,
		StatusBusy: analysis.StatusRunning,
		StatusFail: analysis.StatusFailed,
	}
	if snap == nil {
		return p
	}
	p.UserName = snap.CurrentUser.Name
	p.CurrentUser = NewAvatar(snap.CurrentUser.Avatar, snap.CurrentUser.Name)
	p.Demo = snap.Origin == chat.OriginDemo
	if !snap.LoadedAt.IsZero() {
		p.LoadedAt = snap.LoadedAt.In(r.loc).Format("2006-01-02 15:04:05")
	}

	var activeID string
	if selected != nil {
		activeID = selected.ID
		p.Thread = BuildThread(selected, r.loc)
	}
	p.Sessions = SessionItems(snap.Sessions, activeID, r.loc)
	return p
}

// Page writes the full viewer. Output is buffered so a template error never
// leaves a half-written response.
func (r *Renderer) Page(w io.Writer, p Page) error {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "page.html", p); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}
