package domain

import "time"

// Group is a named conversation with an explicit member list.
// Membership is owned by the group store; the hub only reads it at
// connection time to subscribe the connection to group channels.
type Group struct {
	ID        string
	Name      string
	CreatedBy string
	Members   []string
	CreatedAt time.Time
}

// HasMember reports whether a user belongs to the group.
func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}
