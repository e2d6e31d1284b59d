// Package api serves the REST surface next to the websocket: liveness probes,
// conversation history, and message search.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"chat-hub/auth"
	"chat-hub/domain"
	"chat-hub/hub"
	"chat-hub/observability"
	"chat-hub/repositories"
)

const defaultSearchLimit = 20

type Server struct {
	log      *slog.Logger
	gate     auth.Gate
	messages repositories.IMessageRepository
	index    *repositories.MessageIndex
	monitor  *observability.Monitor
}

// NewServer wires the REST handlers. index may be nil, in which case the
// search endpoint answers 503.
func NewServer(
	log *slog.Logger,
	gate auth.Gate,
	messages repositories.IMessageRepository,
	index *repositories.MessageIndex,
	monitor *observability.Monitor,
) *Server {
	return &Server{log: log, gate: gate, messages: messages, index: index, monitor: monitor}
}

// Routes mounts every endpoint, including the websocket upgrade handler.
func (s *Server) Routes(ws *hub.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	if ws != nil {
		mux.Handle("GET /ws", ws)
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.Handle("GET /api/messages/search", s.requireAuth(s.handleSearch))
	mux.Handle("GET /api/messages/{conversationId}", s.requireAuth(s.handleHistory))
	mux.Handle("GET /api/stats", s.requireAuth(s.handleStats))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

type historyResponse struct {
	Messages   []messageJSON `json:"messages"`
	NextCursor *string       `json:"nextCursor,omitempty"`
}

type messageJSON struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	MessageText    string         `json:"messageText"`
	IsGroup        bool           `json:"isGroup"`
	GroupID        string         `json:"groupId,omitempty"`
	Language       string         `json:"language,omitempty"`
	CreatedAt      string         `json:"createdAt"`
	Reactions      []reactionJSON `json:"reactions,omitempty"`
}

type reactionJSON struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// handleHistory returns one page of a conversation, newest first, with an
// opaque cursor resuming the next page.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	if conversationID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}

	var cursor *string
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		cursor = &raw
	}

	messages, nextCursor, err := s.messages.GetMessages(conversationID, cursor)
	if err != nil {
		s.log.Error("Failed to load history", "conversation", conversationID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	response := historyResponse{Messages: make([]messageJSON, 0, len(messages))}
	for _, message := range messages {
		response.Messages = append(response.Messages, toMessageJSON(message))
	}
	if len(messages) > 0 {
		response.NextCursor = nextCursor
	}
	writeJSON(w, http.StatusOK, response)
}

// handleSearch runs a full-text query scoped to one conversation and resolves
// the matching ids against the store of record.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		http.Error(w, "search disabled", http.StatusServiceUnavailable)
		return
	}

	conversationID := r.URL.Query().Get("conversationId")
	query := r.URL.Query().Get("q")
	if conversationID == "" || query == "" {
		http.Error(w, "conversationId and q are required", http.StatusBadRequest)
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	ids, err := s.index.Search(r.Context(), conversationID, query, limit)
	if err != nil {
		s.log.Error("Search failed", "conversation", conversationID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	results := make([]messageJSON, 0, len(ids))
	for _, id := range ids {
		message, err := s.messages.GetMessage(id)
		if err != nil {
			// The index may momentarily lag the store; skip stale entries.
			s.log.Debug("Indexed message missing from store", "id", id, "err", err)
			continue
		}
		results = append(results, toMessageJSON(message))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": results})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.GetLatest())
}

func toMessageJSON(message domain.Message) messageJSON {
	reactions := make([]reactionJSON, 0, len(message.Reactions))
	for _, reaction := range message.Reactions {
		reactions = append(reactions, reactionJSON{UserID: reaction.UserID, Emoji: reaction.Emoji})
	}
	return messageJSON{
		ID:             message.ID.String(),
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		MessageText:    message.Text,
		IsGroup:        message.IsGroup,
		GroupID:        message.GroupID,
		Language:       message.Language,
		CreatedAt:      message.CreatedAt.Format(time.RFC3339Nano),
		Reactions:      reactions,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
