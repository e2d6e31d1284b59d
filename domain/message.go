// Package domain contains core concepts of the chat system.
// This file defines Message and Reaction entities and related invariants.
// Messages are immutable once persisted, except for their reaction set.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a chat message addressed to a conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID string
	SenderID       string
	Text           string
	IsGroup        bool
	GroupID        string
	Language       string
	CreatedAt      time.Time
	Reactions      []Reaction
}

// Reaction is a single emoji attached to a message by a user.
// Invariant: a message holds at most one reaction per user.
type Reaction struct {
	UserID string
	Emoji  string
}

// MergeReaction enforces the single-reaction-per-user invariant: any previous
// reaction by the same user is removed before the new one is appended.
func MergeReaction(reactions []Reaction, userID, emoji string) []Reaction {
	merged := make([]Reaction, 0, len(reactions)+1)
	for _, r := range reactions {
		if r.UserID != userID {
			merged = append(merged, r)
		}
	}
	return append(merged, Reaction{UserID: userID, Emoji: emoji})
}
