package ws

import "encoding/json"

// Inbound message types accepted from clients.
const (
	// TypeNewUser subscribes a user to a group feed.
	TypeNewUser = "NEW_USER"
	// TypeRemoveUser unsubscribes a user from a group feed.
	TypeRemoveUser = "REMOVE_USER"
	// TypeJoinChat registers a user for direct chat delivery.
	TypeJoinChat = "JOIN_CHAT"
	// TypeLeaveChat deregisters a user from direct chat.
	TypeLeaveChat = "LEAVE_CHAT"
	// TypeBotChat asks the assistant for a reply on the same connection.
	TypeBotChat = "BOT_CHAT"
)

// Outbound message types pushed to clients.
const (
	// TypeConnected is sent once immediately after the upgrade.
	TypeConnected = "CONNECTED"
	// TypeNewChat carries a direct message. Its frame is flat, not
	// enveloped; see presence.DirectRegistry.
	TypeNewChat = "NEW_CHAT"
)

// Envelope is the wire form of every inbound frame: a type tag plus a
// type-specific payload left raw until the tag is known.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event is an outbound enveloped frame.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// PresencePayload accompanies NEW_USER and REMOVE_USER.
type PresencePayload struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

// ChatUserPayload accompanies JOIN_CHAT and LEAVE_CHAT.
type ChatUserPayload struct {
	UserID string `json:"userId"`
}

// BotPayload accompanies BOT_CHAT in both directions: the user's message
// on the way in, the assistant's reply on the way out.
type BotPayload struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// ConnectedPayload accompanies CONNECTED. Data is always null; the field
// exists so the frame shape matches what web clients expect.
type ConnectedPayload struct {
	Data interface{} `json:"data"`
}

// Connected builds the post-upgrade greeting frame.
func Connected() Event {
	return Event{Type: TypeConnected, Payload: ConnectedPayload{Data: nil}}
}
