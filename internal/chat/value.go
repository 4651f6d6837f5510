package chat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Kind is the shape of a raw cell value.
type Kind int

const (
	KindEmpty  Kind = iota
	KindNumber      // 1700000000000
	KindString      // "2024-01-02 10:00:00"
	KindText        // {"text": "..."}
	KindList        // [ ... ]
	KindObject      // any other object, e.g. an attachment
)

// Value is a decoded table cell. The same logical column can arrive as a
// plain scalar, a {text} wrapper, or a list of either depending on the
// column type, so every accessor handles each shape explicitly.
type Value struct {
	kind  Kind
	num   float64
	str   string
	items []Value
	raw   json.RawMessage
}

// ParseValue decodes a raw JSON cell. Malformed input decodes to an empty
// value.
func ParseValue(raw json.RawMessage) Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Value{}
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}
		}
		return Value{kind: KindString, str: s}
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return Value{}
		}
		items := make([]Value, 0, len(elems))
		for _, e := range elems {
			items = append(items, ParseValue(e))
		}
		return Value{kind: KindList, items: items}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return Value{}
		}
		if t, ok := obj["text"]; ok {
			var s string
			if json.Unmarshal(t, &s) == nil {
				return Value{kind: KindText, str: s}
			}
		}
		return Value{kind: KindObject, raw: raw}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}
		}
		return Value{kind: KindString, str: strconv.FormatBool(b)}
	default:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return Value{}
		}
		return Value{kind: KindNumber, num: n}
	}
}

// StringValue, NumberValue, TextValue and ListValue build values directly.
func StringValue(s string) Value     { return Value{kind: KindString, str: s} }
func NumberValue(n float64) Value    { return Value{kind: KindNumber, num: n} }
func TextValue(s string) Value       { return Value{kind: KindText, str: s} }
func ListValue(items ...Value) Value { return Value{kind: KindList, items: items} }

func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether the cell holds nothing usable.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindEmpty:
		return true
	case KindList:
		return len(v.items) == 0
	case KindString, KindText:
		return v.str == ""
	}
	return false
}

// Text returns the textual content of the cell. Lists are rich-text
// segments and are concatenated.
func (v Value) Text() string {
	switch v.kind {
	case KindString, KindText:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindList:
		var sb strings.Builder
		for _, it := range v.items {
			sb.WriteString(it.Text())
		}
		return sb.String()
	}
	return ""
}

// Int returns the cell as an integer, or 0.
func (v Value) Int() int64 {
	switch v.kind {
	case KindNumber:
		return int64(v.num)
	case KindString, KindText:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0
		}
		return int64(n)
	case KindList:
		if len(v.items) > 0 {
			return v.items[0].Int()
		}
	}
	return 0
}

// Time resolves the cell to epoch milliseconds. Numbers are taken as-is,
// lists are unwrapped to their first element, {text} wrappers to their
// text, and strings are parsed as dates in loc. Anything else is 0.
func (v Value) Time(loc *time.Location) int64 {
	switch v.kind {
	case KindNumber:
		return int64(v.num)
	case KindList:
		if len(v.items) == 0 {
			return 0
		}
		return v.items[0].Time(loc)
	case KindString, KindText:
		return ParseTime(v.str, loc)
	}
	return 0
}

type rawAttachment struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	Token     string `json:"token"`
	FileToken string `json:"file_token"`
}

// Attachments decodes an attachment column. Non-object entries are skipped.
func (v Value) Attachments() []Attachment {
	if v.kind != KindList {
		return nil
	}
	var out []Attachment
	for _, it := range v.items {
		if it.kind != KindObject {
			continue
		}
		var ra rawAttachment
		if err := json.Unmarshal(it.raw, &ra); err != nil {
			continue
		}
		tok := ra.FileToken
		if tok == "" {
			tok = ra.Token
		}
		out = append(out, Attachment{Name: ra.Name, Type: ra.Type, Size: ra.Size, Token: tok})
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"2006-1-2 15:04:05",
	"2006-1-2 15:04",
	"2006-1-2",
	"2006/1/2 15:04:05",
	"2006/1/2 15:04",
	"2006/1/2",
}

// ParseTime parses a date string into epoch milliseconds, returning 0 when
// the string is not a recognised date. All-digit strings are epoch ms.
func ParseTime(s string, loc *time.Location) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if loc == nil {
		loc = time.Local
	}
	if isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
