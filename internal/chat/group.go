package chat

import (
	"fmt"
	"sort"
)

// Assemble folds decoded rows into sessions, infers the local user, and
// orders everything for display: sessions by most recent message first,
// messages chronologically with the sequence number breaking time ties.
func Assemble(entries []Entry) *Snapshot {
	sessions := groupEntries(entries)

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastTime > sessions[j].LastTime
	})

	profiles := collectProfiles(sessions, entries)
	me := InferCurrentUser(sessions)
	ApplyCurrentUser(sessions, me, profiles)

	for _, s := range sessions {
		sortMessages(s.Messages)
	}

	current := Profile{ID: me, Name: me}
	if p, ok := profiles[me]; ok {
		current = p
	}

	return &Snapshot{
		Sessions:      sessions,
		CurrentUserID: me,
		CurrentUser:   current,
	}
}

func groupEntries(entries []Entry) []*Session {
	byKey := make(map[string]*Session)
	var order []*Session

	for _, e := range entries {
		s, ok := byKey[e.SessionKey]
		if !ok {
			s = &Session{ID: e.SessionKey, Type: e.Type}
			if e.Type == TypeGroup {
				s.Name = e.GroupName
				if s.Name == "" {
					s.Name = fmt.Sprintf("Group %s", e.GroupID)
				}
			} else {
				a, b := e.Message.SenderID, e.ReceiverID
				if b < a {
					a, b = b, a
				}
				s.Name = a + " & " + b
			}
			byKey[e.SessionKey] = s
			order = append(order, s)
		}

		s.addParticipant(e.Message.SenderID)
		s.addParticipant(e.ReceiverID)
		s.Messages = append(s.Messages, e.Message)
		if e.Message.Time > s.LastTime {
			s.LastTime = e.Message.Time
		}
	}
	return order
}

// collectProfiles picks a display name and avatar per participant. The
// first message a participant sent wins; receiver columns fill in for
// participants who never sent anything.
func collectProfiles(sessions []*Session, entries []Entry) map[string]Profile {
	profiles := make(map[string]Profile)
	for _, s := range sessions {
		for _, m := range s.Messages {
			if m.SenderID == "" {
				continue
			}
			if _, ok := profiles[m.SenderID]; !ok {
				profiles[m.SenderID] = Profile{ID: m.SenderID, Name: m.SenderName, Avatar: m.SenderAvatar}
			}
		}
	}
	for _, e := range entries {
		if e.ReceiverID == "" {
			continue
		}
		if _, ok := profiles[e.ReceiverID]; !ok {
			profiles[e.ReceiverID] = Profile{ID: e.ReceiverID, Name: e.ReceiverName, Avatar: e.ReceiverAvatar}
		}
	}
	return profiles
}

// InferCurrentUser guesses which participant is the account the export was
// taken from: the id that belongs to the most one-to-one sessions. Group
// membership is not counted. Ties go to the id encountered first when
// walking sessions in order and participants in insertion order.
func InferCurrentUser(sessions []*Session) string {
	counts := make(map[string]int)
	var seen []string
	for _, s := range sessions {
		if s.Type != TypeSingle {
			continue
		}
		for _, p := range s.Participants {
			if _, ok := counts[p]; !ok {
				seen = append(seen, p)
			}
			counts[p]++
		}
	}

	me, best := "", 0
	for _, p := range seen {
		if counts[p] > best {
			me, best = p, counts[p]
		}
	}
	return me
}

// ApplyCurrentUser marks each message as self or other and renames
// one-to-one sessions after the other participant.
func ApplyCurrentUser(sessions []*Session, me string, profiles map[string]Profile) {
	for _, s := range sessions {
		for _, m := range s.Messages {
			m.IsSelf = m.SenderID == me
		}
		if s.Type != TypeSingle {
			continue
		}
		other := ""
		for _, p := range s.Participants {
			if p != me {
				other = p
				break
			}
		}
		if other == "" {
			continue
		}
		if p, ok := profiles[other]; ok {
			s.Name = p.Name
			s.Avatar = p.Avatar
		} else {
			s.Name = other
			s.Avatar = ""
		}
	}
}

func sortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Time != msgs[j].Time {
			return msgs[i].Time < msgs[j].Time
		}
		return msgs[i].Seq < msgs[j].Seq
	})
}
