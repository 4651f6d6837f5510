package chat

import (
	"errors"
	"testing"
)

func TestResolveFields_AllPresent(t *testing.T) {
	var metas []FieldMeta
	for i, fn := range fieldNames {
		metas = append(metas, FieldMeta{ID: "fld" + string(rune('a'+i)), Name: fn.Name})
	}

	fm, missing, err := ResolveFields(metas)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("expected no missing fields, got %v", missing)
	}
	if len(fm) != len(fieldNames) {
		t.Errorf("expected %d mapped fields, got %d", len(fieldNames), len(fm))
	}
	if fm[FieldMsgSeq] != "flda" {
		t.Errorf("expected MSG_SEQ -> flda, got %q", fm[FieldMsgSeq])
	}
}

func TestResolveFields_Partial(t *testing.T) {
	metas := []FieldMeta{
		{ID: "fld1", Name: "消息发送方id"},
		{ID: "fld2", Name: "接收人"},
		{ID: "fld3", Name: "Unrelated"},
	}

	fm, missing, err := ResolveFields(metas)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fm[FieldSenderID] != "fld1" || fm[FieldReceiver] != "fld2" {
		t.Errorf("unexpected field map: %v", fm)
	}
	if fm.Has(FieldContentMedia) {
		t.Error("media column should not be mapped")
	}
	if len(missing) != len(fieldNames)-2 {
		t.Errorf("expected %d missing, got %d", len(fieldNames)-2, len(missing))
	}
}

func TestResolveFields_NoneFound(t *testing.T) {
	_, missing, err := ResolveFields([]FieldMeta{{ID: "fld1", Name: "Name"}, {ID: "fld2", Name: "Notes"}})
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
	if len(missing) != len(fieldNames) {
		t.Errorf("expected every field reported missing, got %d", len(missing))
	}
}

func TestResolveFields_DuplicateTitleKeepsFirst(t *testing.T) {
	fm, _, err := ResolveFields([]FieldMeta{
		{ID: "first", Name: "消息id"},
		{ID: "second", Name: "消息id"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fm[FieldMsgID] != "first" {
		t.Errorf("expected first column id, got %q", fm[FieldMsgID])
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName(FieldGroupName); got != "群聊消息的群名称" {
		t.Errorf("DisplayName(GROUP_NAME) = %q", got)
	}
	if got := DisplayName(Field("NOPE")); got != "" {
		t.Errorf("expected empty name for unknown field, got %q", got)
	}
}
