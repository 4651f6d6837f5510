package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// NoMessagesInRange is the transcript returned when no message falls inside
// the requested window.
const NoMessagesInRange = "无符合时间范围的消息记录。"

const day = 24 * time.Hour

type transcriptLine struct {
	time     int64
	sender   string
	content  string
	chatName string
	chatType ChatType
}

// BuildMessageDetails renders every message from the last days days (all of
// them when days <= 0) as one chronological transcript line each:
//
//	[2024-01-02 15:04:05] [私聊:AL] AL: 你好
func BuildMessageDetails(sessions []*Session, days int, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var cutoff int64
	if days > 0 {
		cutoff = now.Add(-time.Duration(days) * day).UnixMilli()
	}

	var lines []transcriptLine
	for _, s := range sessions {
		for _, m := range s.Messages {
			if m.Time < cutoff {
				continue
			}
			sender := m.SenderID
			if sender == "" {
				sender = unknownID
			}
			content := m.Content
			if content == "" && m.HasMedia() {
				content = "[Media]"
			}
			lines = append(lines, transcriptLine{
				time:     m.Time,
				sender:   sender,
				content:  content,
				chatName: s.Name,
				chatType: s.Type,
			})
		}
	}

	if len(lines) == 0 {
		return NoMessagesInRange
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].time < lines[j].time })

	var sb strings.Builder
	for i, l := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		label := "私聊:" + l.chatName
		if l.chatType == TypeGroup {
			label = "群:" + l.chatName
		}
		fmt.Fprintf(&sb, "[%s] [%s] %s: %s",
			formatMillis(l.time, loc, "2006-01-02 15:04:05"), label, l.sender, l.content)
	}
	return sb.String()
}

// BuildDataSummary renders an overview of the loaded data: totals, the time
// span, the most active senders and sessions, and the latest messages.
func BuildDataSummary(sessions []*Session, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	groups := 0
	for _, s := range sessions {
		if s.Type == TypeGroup {
			groups++
		}
	}

	total := 0
	var minTime, maxTime int64
	senderCounts := make(map[string]int)
	var senders []string
	for _, s := range sessions {
		for _, m := range s.Messages {
			if total == 0 || m.Time < minTime {
				minTime = m.Time
			}
			if total == 0 || m.Time > maxTime {
				maxTime = m.Time
			}
			total++
			sender := m.SenderID
			if sender == "" {
				sender = unknownID
			}
			if _, ok := senderCounts[sender]; !ok {
				senders = append(senders, sender)
			}
			senderCounts[sender]++
		}
	}

	timeRange := "无数据"
	if total > 0 {
		timeRange = formatMillis(minTime, loc, "2006-01-02") + " 至 " + formatMillis(maxTime, loc, "2006-01-02")
	}

	sort.SliceStable(senders, func(i, j int) bool { return senderCounts[senders[i]] > senderCounts[senders[j]] })
	var top []string
	for i, name := range senders {
		if i == 10 {
			break
		}
		top = append(top, fmt.Sprintf("%s(%d)", name, senderCounts[name]))
	}

	busiest := append([]*Session(nil), sessions...)
	sort.SliceStable(busiest, func(i, j int) bool { return len(busiest[i].Messages) > len(busiest[j].Messages) })
	var topChats []string
	for i, s := range busiest {
		if i == 5 {
			break
		}
		topChats = append(topChats, fmt.Sprintf("%s(%s) 消息数:%d", s.Name, s.Type, len(s.Messages)))
	}

	var latest []*Message
	for _, s := range sessions {
		if m := s.LastMessage(); m != nil {
			latest = append(latest, m)
		}
	}
	sort.SliceStable(latest, func(i, j int) bool { return latest[i].Time > latest[j].Time })
	var latestLines []string
	for i, m := range latest {
		if i == 8 {
			break
		}
		content := truncateRunes(m.Content, 50)
		if content == "" {
			content = "(Media)"
		}
		latestLines = append(latestLines, fmt.Sprintf("[%s] %s: %s", formatMillis(m.Time, loc, "01-02 15:04"), m.SenderID, content))
	}

	return strings.Join([]string{
		"【基本概况】",
		fmt.Sprintf("会话总数：%d (单聊%d, 群聊%d)", len(sessions), len(sessions)-groups, groups),
		fmt.Sprintf("消息总数：%d", total),
		"时间跨度：" + timeRange,
		"【活跃发言人Top10】",
		strings.Join(top, ", "),
		"【最活跃会话Top5】",
		strings.Join(topChats, "; "),
		"【最新消息示例】",
		strings.Join(latestLines, "\n"),
	}, "\n")
}

func formatMillis(ms int64, loc *time.Location, layout string) string {
	return time.UnixMilli(ms).In(loc).Format(layout)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
