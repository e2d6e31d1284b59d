// Package domain contains core concepts of the chat system.
// This file defines conversation addressing rules.
// No runtime, network, or UI logic should be added here.
package domain

import "strings"

const (
	directPrefix = "direct:"
	groupPrefix  = "group:"
)

// DirectID derives the canonical conversation identifier for a pair of users.
// The two identities are sorted before concatenation so that both participants
// resolve the same token regardless of argument order.
func DirectID(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return directPrefix + a + ":" + b
}

// GroupID derives the conversation identifier for a group.
func GroupID(groupID string) string {
	return groupPrefix + groupID
}

// IsGroupConversation reports whether a conversation identifier addresses a group.
func IsGroupConversation(conversationID string) bool {
	return strings.HasPrefix(conversationID, groupPrefix)
}
