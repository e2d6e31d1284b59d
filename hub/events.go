// Package hub implements the real-time session hub: connection admission,
// presence tracking, message fan-out, reaction merging, and typing relay.
package hub

import (
	"encoding/json"
	"time"
)

// Client -> hub events.
const (
	EventJoinGroup   = "join_group"
	EventTyping      = "typing"
	EventSendMessage = "send_message"
	EventReactMessage = "react_message"
)

// Hub -> client events.
const (
	EventOnlineStatus    = "online_status"
	EventReceiveMessage  = "receive_message"
	EventMessageReaction = "message_reaction"
)

// Envelope is the wire frame exchanged over the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinGroupPayload struct {
	GroupID string `json:"groupId" validate:"required"`
}

// TypingPayload targets either a recipient (direct) or a group, never both.
type TypingPayload struct {
	RecipientID string `json:"recipientId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
}

type SendMessagePayload struct {
	RecipientID string `json:"recipientId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	MessageText string `json:"messageText" validate:"required"`
}

type ReactMessagePayload struct {
	MessageID   string `json:"messageId" validate:"required,uuid"`
	Emoji       string `json:"emoji" validate:"required"`
	GroupID     string `json:"groupId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
}

type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// TypingEvent mirrors the shapes the reference clients expect: direct typing
// carries "from", group typing carries "userId" plus "groupId".
type TypingEvent struct {
	From    string `json:"from,omitempty"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

type SenderRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type MessageEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	MessageText    string    `json:"messageText"`
	Sender         SenderRef `json:"sender"`
	IsGroup        bool      `json:"isGroup"`
	GroupID        string    `json:"groupId,omitempty"`
	Language       string    `json:"language,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type ReactionRef struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Emoji    string `json:"emoji"`
}

type ReactionEvent struct {
	MessageID string        `json:"messageId"`
	Reactions []ReactionRef `json:"reactions"`
}
