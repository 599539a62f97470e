package realtime

// Event is the envelope fanned out to subscribed connections. Data is
// whatever the event type calls for: a message, a typing notice, a
// presence list or a freshly created request.
type Event struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Server-emitted event types of the realtime wire contract.
const (
	EventReceiveMessage = "receive-message"
	EventUserTyping     = "user-typing"
	EventRoomUsers      = "room-users"
	EventNewRequest     = "new-blood-request"
)

// TypingNotice is the payload of a user-typing event.
type TypingNotice struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}
