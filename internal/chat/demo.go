package chat

import "time"

const demoUser = "章文洁"

// DemoSnapshot returns the built-in demonstration data shown when the table
// cannot be loaded.
func DemoSnapshot(now time.Time) *Snapshot {
	ms := now.UnixMilli()

	al := &Session{
		ID:   "single:AL|" + demoUser,
		Name: "AL",
		Type: TypeSingle,
		Messages: []*Message{
			demoMessage("mock1", "1", 1, "AL", "你好", ms-3600000),
			demoMessage("mock2", "2", 2, demoUser, "你好呀，可以给我你的微信上发一份你的最新简历；卫瓴科技是红杉、腾讯等资本投资的A轮科技企业...", ms-3500000),
			demoMessage("mock3", "3", 3, "AL", "好的 稍等", ms-3400000),
			{
				RecordID: "mock4", ID: "4", Seq: 4,
				SenderID: "AL", SenderName: "AL",
				MsgType: "file",
				Media:   []Attachment{{Name: "冷先生-销售.pdf", Type: "application/pdf", Size: 296000, Token: "xxx"}},
				Time:    ms - 3400000,
			},
		},
		Participants: []string{"AL", demoUser},
		LastTime:     ms,
	}

	group := &Session{
		ID:   "group:101",
		Name: "产品讨论群",
		Type: TypeGroup,
		Messages: []*Message{
			demoMessage("mock11", "11", 1, "Bob", "大家看下这个需求", ms-7200000),
			demoMessage("mock12", "12", 2, demoUser, "收到", ms-7100000),
		},
		Participants: []string{"Bob", demoUser},
		LastTime:     ms - 100000,
	}

	sessions := []*Session{al, group}
	for _, s := range sessions {
		for _, m := range s.Messages {
			m.IsSelf = m.SenderID == demoUser
		}
	}

	return &Snapshot{
		LoadedAt:      now,
		Origin:        OriginDemo,
		Sessions:      sessions,
		CurrentUserID: demoUser,
		CurrentUser:   Profile{ID: demoUser, Name: demoUser},
	}
}

func demoMessage(recordID, id string, seq int64, sender, content string, t int64) *Message {
	return &Message{
		RecordID:   recordID,
		ID:         id,
		Seq:        seq,
		SenderID:   sender,
		SenderName: sender,
		MsgType:    "text",
		Content:    content,
		Media:      []Attachment{},
		Time:       t,
	}
}
