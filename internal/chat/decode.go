package chat

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

const unknownID = "Unknown"

// Row is one raw record of the source table, with cells keyed by column id.
type Row struct {
	RecordID string                     `json:"record_id"`
	Fields   map[string]json.RawMessage `json:"fields"`
}

// Entry is a decoded row: the message plus the conversation metadata that
// only matters while grouping.
type Entry struct {
	Message *Message

	SessionKey     string
	Type           ChatType
	GroupID        string
	GroupName      string
	ReceiverID     string
	ReceiverName   string
	ReceiverAvatar string
}

// rowReader reads logical fields from a row through a field map.
type rowReader struct {
	row Row
	fm  FieldMap
}

func (r rowReader) value(f Field) Value {
	id, ok := r.fm[f]
	if !ok {
		return Value{}
	}
	return ParseValue(r.row.Fields[id])
}

func (r rowReader) text(f Field, fallback string) string {
	if s := r.value(f).Text(); s != "" {
		return s
	}
	return fallback
}

// DecodeRow turns a raw row into an Entry. Missing columns decode to their
// defaults; decoding never fails.
func DecodeRow(row Row, fm FieldMap, loc *time.Location) Entry {
	r := rowReader{row: row, fm: fm}

	senderID := r.text(FieldSenderID, unknownID)
	receiverID := r.text(FieldReceiver, unknownID)
	groupID := r.text(FieldGroupID, "")

	sent := r.value(FieldSendTime).Time(loc)
	if sent == 0 {
		sent = r.value(FieldCreateTime).Time(loc)
	}

	msg := &Message{
		RecordID:     row.RecordID,
		ID:           r.text(FieldMsgID, ""),
		Seq:          r.value(FieldMsgSeq).Int(),
		SenderID:     senderID,
		SenderName:   r.text(FieldSenderName, senderID),
		SenderAvatar: r.text(FieldSenderAvatar, ""),
		MsgType:      r.text(FieldMsgType, ""),
		Content:      r.text(FieldContentText, ""),
		Media:        r.value(FieldContentMedia).Attachments(),
		Time:         sent,
	}
	if msg.Media == nil {
		msg.Media = []Attachment{}
	}

	key, typ := SessionKey(senderID, receiverID, groupID)
	return Entry{
		Message:        msg,
		SessionKey:     key,
		Type:           typ,
		GroupID:        groupID,
		GroupName:      r.text(FieldGroupName, ""),
		ReceiverID:     receiverID,
		ReceiverName:   r.text(FieldReceiverName, receiverID),
		ReceiverAvatar: r.text(FieldReceiverAvatar, ""),
	}
}

// SessionKey derives the conversation key for a message. Group messages are
// keyed by group id; one-to-one messages by the sorted participant pair, so
// the key does not depend on which side sent the message.
func SessionKey(senderID, receiverID, groupID string) (string, ChatType) {
	if groupID != "" {
		return "group:" + groupID, TypeGroup
	}
	pair := []string{senderID, receiverID}
	sort.Strings(pair)
	return "single:" + strings.Join(pair, "|"), TypeSingle
}
