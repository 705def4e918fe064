package bot

// Update Telegram webhook 推送的更新，只解析用到的字段
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message 聊天消息
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Chat 聊天，私聊时 ID 即用户 ID
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}
