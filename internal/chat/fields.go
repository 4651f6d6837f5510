package chat

import "errors"

// ErrSchemaMismatch is returned when none of the expected columns exist in
// the table, meaning the table is not a chat export at all.
var ErrSchemaMismatch = errors.New("no expected chat columns found in table")

// Field is a logical column of a chat export.
type Field string

const (
	FieldMsgSeq         Field = "MSG_SEQ"
	FieldMsgID          Field = "MSG_ID"
	FieldSenderID       Field = "SENDER_ID"
	FieldMsgType        Field = "MSG_TYPE"
	FieldGroupID        Field = "GROUP_ID"
	FieldGroupName      Field = "GROUP_NAME"
	FieldSendTime       Field = "SEND_TIME"
	FieldContentText    Field = "CONTENT_TEXT"
	FieldContentMedia   Field = "CONTENT_MEDIA"
	FieldCreateTime     Field = "CREATE_TIME"
	FieldReceiver       Field = "RECEIVER"
	FieldSenderName     Field = "SENDER_NAME"
	FieldSenderAvatar   Field = "SENDER_AVATAR"
	FieldReceiverName   Field = "RECEIVER_NAME"
	FieldReceiverAvatar Field = "RECEIVER_AVATAR"
)

// fieldNames lists every logical field with the column title used by the
// export, in resolution order.
var fieldNames = []struct {
	Field Field
	Name  string
}{
	{FieldMsgSeq, "消息序号"},
	{FieldMsgID, "消息id"},
	{FieldSenderID, "消息发送方id"},
	{FieldMsgType, "消息类型"},
	{FieldGroupID, "群聊消息的群id"},
	{FieldGroupName, "群聊消息的群名称"},
	{FieldSendTime, "消息发送时间"},
	{FieldContentText, "消息内容_文本"},
	{FieldContentMedia, "消息内容_媒体文件"},
	{FieldCreateTime, "创建时间"},
	{FieldReceiver, "接收人"},
	{FieldSenderName, "消息发送人名称"},
	{FieldSenderAvatar, "消息发送人头像链接"},
	{FieldReceiverName, "接收人名称"},
	{FieldReceiverAvatar, "接收人头像链接"},
}

// DisplayName returns the column title the export uses for f.
func DisplayName(f Field) string {
	for _, fn := range fieldNames {
		if fn.Field == f {
			return fn.Name
		}
	}
	return ""
}

// FieldMeta describes one column of the source table.
type FieldMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FieldMap maps logical fields to column ids of the source table.
type FieldMap map[Field]string

// Has reports whether the table has a column for f.
func (fm FieldMap) Has(f Field) bool {
	_, ok := fm[f]
	return ok
}

// ResolveFields maps every expected column title found in metas to its
// column id. Titles that are absent are returned in missing; only a table
// with none of them is an error.
func ResolveFields(metas []FieldMeta) (FieldMap, []string, error) {
	byName := make(map[string]string, len(metas))
	for _, m := range metas {
		if _, dup := byName[m.Name]; !dup {
			byName[m.Name] = m.ID
		}
	}

	fm := make(FieldMap, len(fieldNames))
	var missing []string
	for _, fn := range fieldNames {
		if id, ok := byName[fn.Name]; ok {
			fm[fn.Field] = id
		} else {
			missing = append(missing, fn.Name)
		}
	}

	if len(fm) == 0 {
		return nil, missing, ErrSchemaMismatch
	}
	return fm, missing, nil
}
