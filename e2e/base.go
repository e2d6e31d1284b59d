package e2e

import (
	"encoding/json"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/suite"

	"chat-hub/hub"
)

const readTimeout = 5 * time.Second

type BaseHubSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseHubSuite) SetupSuite() {
	_ = godotenv.Load()
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)

	if s.Config.HubAddr == "" {
		s.T().Skip("HUB_ADDR not set, skipping end to end scenarios")
	}
}

// Dial opens an authenticated websocket connection with a colorized log header.
func (s *BaseHubSuite) Dial(t *testing.T, name, token string) *websocket.Conn {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)

	target := url.URL{
		Scheme:   "ws",
		Host:     s.Config.HubAddr,
		Path:     "/ws",
		RawQuery: "token=" + url.QueryEscape(token),
	}
	conn, _, err := websocket.DefaultDialer.Dial(target.String(), nil)
	s.Require().NoError(err, "Failed to connect to hub at "+s.Config.HubAddr)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Emit sends one event envelope over the connection.
func (s *BaseHubSuite) Emit(t *testing.T, conn *websocket.Conn, event string, payload any) {
	data, err := json.Marshal(payload)
	s.Require().NoError(err)
	frame, err := json.Marshal(hub.Envelope{Event: event, Data: data})
	s.Require().NoError(err)
	if s.Config.DebugJSON {
		t.Logf("SEND %s", frame)
	}
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, frame))
}

// WaitFor reads frames until one with the wanted event arrives, discarding
// everything else (presence snapshots mostly).
func (s *BaseHubSuite) WaitFor(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	deadline := time.Now().Add(readTimeout)
	s.Require().NoError(conn.SetReadDeadline(deadline))

	for {
		_, raw, err := conn.ReadMessage()
		s.Require().NoError(err, "no %q frame before deadline", event)
		if s.Config.DebugJSON {
			t.Logf("RECV %s", raw)
		}

		var envelope hub.Envelope
		s.Require().NoError(json.Unmarshal(raw, &envelope))
		if envelope.Event == event {
			return envelope.Data
		}
	}
}
