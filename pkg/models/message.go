package models

// Message is the wire shape of a single chat message as stored under
// messages/{id}. The id is the store-generated child key and is not
// serialized inside the record itself; it is attached when the snapshot
// is materialized.
type Message struct {
	ID string `json:"-"`
	// Text is the message body. Messages are immutable once written;
	// there is no edit or delete operation anywhere in this client.
	Text string `json:"text"`
	// Sender is the author's email; UID is the author's identity id.
	Sender string `json:"sender"`
	UID    string `json:"uid"`
	// Timestamp is assigned by the store at write time (ms since epoch).
	// Clients must never write a local clock here.
	Timestamp int64 `json:"timestamp"`

	SenderName     string `json:"senderName,omitempty"`
	SenderPhotoURL string `json:"senderPhotoURL,omitempty"`

	// Reactions maps an emoji to the set of identity ids that reacted
	// with it. An emoji key present here always has a non-empty id list;
	// emptying the list removes the key.
	Reactions map[string][]string `json:"reactions,omitempty"`

	// Reply fields are a denormalized snapshot of the target message
	// taken at reply time. They are never refreshed afterwards.
	ReplyTo       string `json:"replyTo,omitempty"`
	ReplyToText   string `json:"replyToText,omitempty"`
	ReplyToSender string `json:"replyToSender,omitempty"`
}

// ReactorCount returns the number of reactors for the given emoji.
func (m *Message) ReactorCount(emoji string) int {
	if m.Reactions == nil {
		return 0
	}
	return len(m.Reactions[emoji])
}

// ReactedBy reports whether uid reacted to this message with emoji.
func (m *Message) ReactedBy(emoji, uid string) bool {
	for _, id := range m.Reactions[emoji] {
		if id == uid {
			return true
		}
	}
	return false
}
