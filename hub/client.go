package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-hub/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Client is one admitted websocket connection bound to exactly one identity.
// The read pump serializes the connection's inbound events, which is what
// gives per-sender delivery ordering; the write pump owns the socket writes.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	identity domain.Identity
	session  uint64
	send     chan []byte
	done     chan struct{}
	closer   sync.Once
	log      *slog.Logger
}

func NewClient(h *Hub, conn *websocket.Conn, identity domain.Identity, session uint64, log *slog.Logger) *Client {
	return &Client{
		hub:      h,
		conn:     conn,
		identity: identity,
		session:  session,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		log:      log.With("user", identity.ID, "session", session),
	}
}

func (c *Client) Identity() domain.Identity { return c.identity }

// shutdown is idempotent: both the read pump and the hub's Disconnect path
// may race to call it.
func (c *Client) shutdown() {
	c.closer.Do(func() { close(c.done) })
}

// Send encodes one outbound frame and queues it without blocking.
// A full buffer means the client cannot keep up; the frame is dropped and the
// hub will eventually unregister the connection through its read pump dying.
func (c *Client) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return nil
	case c.send <- frame:
		return nil
	default:
		c.hub.monitoring.IncrSlowClientDrops()
		c.log.Warn("Outbound buffer full, dropping frame", "event", event)
		return nil
	}
}

// readPump reads frames until the connection dies, then triggers cleanup.
// Malformed frames and unknown events are dropped silently: nothing in the
// hub surfaces errors across the connection boundary.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Connection closed unexpectedly", "err", err)
			}
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			c.log.Debug("Dropping malformed frame", "err", err)
			continue
		}
		c.hub.route(c, envelope)
	}
}

// writePump flushes queued frames and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
