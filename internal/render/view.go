package render

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/chatlens/internal/chat"
	"github.com/MikeSquared-Agency/chatlens/internal/settings"
)

// dividerGap is the gap after which a new time divider starts in a thread.
const dividerGap = 5 * time.Minute

// DayOptions are the analysis ranges offered in the viewer. 0 means all.
var DayOptions = []DayOption{
	{Days: 0, Label: "全部"},
	{Days: 1, Label: "最近1天"},
	{Days: 7, Label: "最近7天"},
	{Days: 30, Label: "最近30天"},
	{Days: 90, Label: "最近90天"},
}

type DayOption struct {
	Days  int
	Label string
}

type Avatar struct {
	URL     string
	Initial string
	Title   string
}

type SessionItem struct {
	ID      string
	Name    string
	Avatar  Avatar
	Preview string
	Time    string
	Group   bool
	Active  bool
}

type AttachmentView struct {
	Name  string
	URL   string
	Image bool
}

type MessageView struct {
	Sender      string
	Avatar      Avatar
	Self        bool
	Time        string
	Text        string
	Attachments []AttachmentView
}

// ThreadItem is either a time divider or a message.
type ThreadItem struct {
	Divider string
	Message *MessageView
}

type Thread struct {
	ID    string
	Name  string
	Items []ThreadItem
}

// Page is everything the viewer template needs.
type Page struct {
	CurrentUser Avatar
	UserName    string
	Demo        bool
	LoadedAt    string
	Sessions    []SessionItem
	Thread      *Thread
	DayOptions  []DayOption
	AIConfig    settings.AIConfig
	StatusDone  string
	StatusBusy  string
	StatusFail  string
}

// NewAvatar shows the image when there is one, otherwise the upper-cased
// first character of the name, or "?".
func NewAvatar(url, name string) Avatar {
	a := Avatar{URL: url, Title: name, Initial: "?"}
	if r, _ := utf8.DecodeRuneInString(name); r != utf8.RuneError && name != "" {
		a.Initial = strings.ToUpper(string(r))
	}
	return a
}

// Preview is the last message's text, "[Media]" for a content-less last
// message, or "" for an empty session.
func Preview(s *chat.Session) string {
	m := s.LastMessage()
	if m == nil {
		return ""
	}
	if m.Content == "" {
		return "[Media]"
	}
	return m.Content
}

// Clock formats an epoch-ms time as HH:mm. Unknown times render empty.
func Clock(ms int64, loc *time.Location) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).In(loc).Format("15:04")
}

func SessionItems(sessions []*chat.Session, activeID string, loc *time.Location) []SessionItem {
	items := make([]SessionItem, 0, len(sessions))
	for _, s := range sessions {
		var t string
		if m := s.LastMessage(); m != nil {
			t = Clock(m.Time, loc)
		}
		items = append(items, SessionItem{
			ID:      s.ID,
			Name:    s.Name,
			Avatar:  NewAvatar(s.Avatar, s.Name),
			Preview: Preview(s),
			Time:    t,
			Group:   s.Type == chat.TypeGroup,
			Active:  s.ID == activeID,
		})
	}
	return items
}

// BuildThread lays out a session's messages. A divider precedes every
// message more than five minutes after the previous divider.
func BuildThread(s *chat.Session, loc *time.Location) *Thread {
	th := &Thread{ID: s.ID, Name: s.Name}
	var lastDivider int64
	for _, m := range s.Messages {
		if m.Time-lastDivider > dividerGap.Milliseconds() {
			th.Items = append(th.Items, ThreadItem{
				Divider: time.UnixMilli(m.Time).In(loc).Format("01-02 15:04"),
			})
			lastDivider = m.Time
		}
		th.Items = append(th.Items, ThreadItem{Message: messageView(m, loc)})
	}
	return th
}

func messageView(m *chat.Message, loc *time.Location) *MessageView {
	v := &MessageView{
		Sender: m.SenderName,
		Avatar: NewAvatar(m.SenderAvatar, m.SenderName),
		Self:   m.IsSelf,
		Time:   Clock(m.Time, loc),
		Text:   m.Content,
	}
	for i, a := range m.Media {
		var url string
		if i < len(m.MediaURLs) {
			url = m.MediaURLs[i]
		}
		v.Attachments = append(v.Attachments, AttachmentView{
			Name:  a.Name,
			URL:   url,
			Image: url != "" && strings.HasPrefix(a.Type, "image/"),
		})
	}
	return v
}
