package chat

import "time"

// ChatType distinguishes one-to-one conversations from group chats.
type ChatType string

const (
	TypeSingle ChatType = "single"
	TypeGroup  ChatType = "group"
)

// Attachment is a file stored in the media column of a row.
type Attachment struct {
	Name  string `json:"name"`
	Type  string `json:"type"` // MIME type
	Size  int64  `json:"size"`
	Token string `json:"token"`
}

// Message is a single exported chat message.
type Message struct {
	RecordID     string       `json:"record_id"`
	ID           string       `json:"id"`
	Seq          int64        `json:"seq"`
	SenderID     string       `json:"sender_id"`
	SenderName   string       `json:"sender_name"`
	SenderAvatar string       `json:"sender_avatar"`
	MsgType      string       `json:"msg_type"`
	Content      string       `json:"content"`
	Media        []Attachment `json:"media"`
	MediaURLs    []string     `json:"media_urls,omitempty"`
	Time         int64        `json:"time"` // epoch ms, 0 when unknown
	IsSelf       bool         `json:"is_self"`
}

// HasMedia reports whether the message carries attachments.
func (m *Message) HasMedia() bool {
	return len(m.Media) > 0
}

// Session is a conversation thread, either one-to-one or group.
type Session struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Avatar       string     `json:"avatar"`
	Type         ChatType   `json:"type"`
	Messages     []*Message `json:"messages"`
	Participants []string   `json:"participants"`
	LastTime     int64      `json:"last_time"`
}

// LastMessage returns the most recent message, or nil for an empty session.
func (s *Session) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

func (s *Session) addParticipant(id string) {
	if id == "" {
		return
	}
	for _, p := range s.Participants {
		if p == id {
			return
		}
	}
	s.Participants = append(s.Participants, id)
}

// Profile is the display identity of a participant.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Origin records where a snapshot's sessions came from.
type Origin string

const (
	OriginTable Origin = "table"
	OriginDemo  Origin = "demo"
)

// Snapshot is the complete result of one load: every session plus the
// inferred local user. Snapshots are not modified after they are published.
type Snapshot struct {
	LoadID        string     `json:"load_id"`
	LoadedAt      time.Time  `json:"loaded_at"`
	Origin        Origin     `json:"origin"`
	Sessions      []*Session `json:"sessions"`
	CurrentUserID string     `json:"current_user_id"`
	CurrentUser   Profile    `json:"current_user"`
	Fields        FieldMap   `json:"fields,omitempty"`
}

// Find returns the session with the given id.
func (s *Snapshot) Find(id string) (*Session, bool) {
	for _, sess := range s.Sessions {
		if sess.ID == id {
			return sess, true
		}
	}
	return nil, false
}

// MessageCount returns the total number of messages across all sessions.
func (s *Snapshot) MessageCount() int {
	n := 0
	for _, sess := range s.Sessions {
		n += len(sess.Messages)
	}
	return n
}
