// Package domain contains core concepts of the chat system.
// This file defines user identities as seen by the hub.
package domain

// Identity is the authenticated user attached to a connection.
// The hub treats it as immutable for the lifetime of the connection.
type Identity struct {
	ID       string
	Username string
}
