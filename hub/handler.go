package hub

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"chat-hub/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The hub authenticates by token, not origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades /ws requests into hub connections. The gate runs BEFORE
// the upgrade: a rejected credential never produces a websocket, so no other
// component ever sees an unauthenticated connection.
type Handler struct {
	hub  *Hub
	gate auth.Gate
	log  *slog.Logger
}

func NewHandler(h *Hub, gate auth.Gate, log *slog.Logger) *Handler {
	return &Handler{hub: h, gate: gate, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.gate.Admit(handshakeToken(r))
	if err != nil {
		h.hub.monitoring.IncrConnectionsRejected()
		http.Error(w, "authentication error", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Upgrade failed", "err", err)
		return
	}

	client := NewClient(h.hub, conn, identity, h.hub.presence.NextSession(), h.log)
	h.hub.Admit(client)

	go client.writePump()
	go client.readPump()
}

// handshakeToken extracts the credential from the Authorization header or,
// for browser clients that cannot set websocket headers, the token query
// parameter.
func handshakeToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
