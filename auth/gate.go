package auth

import (
	"log/slog"

	"chat-hub/domain"
	"chat-hub/errors"
)

// Gate authenticates an inbound connection before it reaches the hub.
// Exactly one verification attempt per connection attempt: a rejected
// connection never touches presence, membership, or fan-out. The caller
// may retry only by opening a new connection with a new token.
type Gate struct {
	log *slog.Logger
}

func NewGate(log *slog.Logger) Gate {
	return Gate{log: log}
}

// Admit verifies the handshake token and returns the authenticated identity.
// An absent, malformed, or expired token is fatal to the connection attempt.
func (g Gate) Admit(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, errors.ErrMissingToken
	}

	claims, err := ValidateToken(token)
	if err != nil {
		g.log.Debug("Connection rejected", "err", err)
		return domain.Identity{}, errors.ErrInvalidToken
	}

	return domain.Identity{ID: claims.UserID, Username: claims.Username}, nil
}
