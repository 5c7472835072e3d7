package bus

// InboundEvent is one normalized unit of incoming channel traffic: a reply to
// a previously sent message, a button callback, or unsolicited text. ReplyToID
// carries the channel-native id of the targeted message; it is empty for
// unsolicited text. For callbacks, Content holds the button payload.
type InboundEvent struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	ReplyToID string            `json:"reply_to_id,omitempty"`
	Callback  bool              `json:"callback,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}
