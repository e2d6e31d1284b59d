package hub

import (
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-hub/contract"
	"chat-hub/domain"
	cherrors "chat-hub/errors"
	"chat-hub/moderation"
	"chat-hub/observability"
	"chat-hub/repositories"
)

// reactionStripes sizes the lock striping that serializes reaction merges
// per message id on top of the store's transactional retry.
const reactionStripes = 64

// Hub owns the process-wide connection state: one personal channel per user
// identity and one broadcast channel per group. Everything else (messages,
// reactions, users, groups) lives in the repositories.
type Hub struct {
	mu  sync.RWMutex
	log *slog.Logger

	presence   *PresenceRegistry
	messages   repositories.IMessageRepository
	users      repositories.IUserRepository
	groups     repositories.IGroupRepository
	moderator  *moderation.Moderator
	monitoring *observability.Monitor
	validate   *validator.Validate

	clientsByUser map[string]map[*Client]struct{}
	channels      map[string]map[*Client]struct{}

	reactionLocks [reactionStripes]sync.Mutex
}

func NewHub(
	log *slog.Logger,
	presence *PresenceRegistry,
	messages repositories.IMessageRepository,
	users repositories.IUserRepository,
	groups repositories.IGroupRepository,
	moderator *moderation.Moderator,
	monitoring *observability.Monitor,
) *Hub {
	return &Hub{
		log:           log,
		presence:      presence,
		messages:      messages,
		users:         users,
		groups:        groups,
		moderator:     moderator,
		monitoring:    monitoring,
		validate:      validator.New(),
		clientsByUser: make(map[string]map[*Client]struct{}),
		channels:      make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Presence() *PresenceRegistry { return h.presence }

// Admit registers an authenticated connection: personal channel, presence,
// and subscription to every group channel the user currently belongs to.
// The gate has already run; no further credential checks happen here.
func (h *Hub) Admit(client *Client) {
	userID := client.identity.ID

	h.mu.Lock()
	if _, ok := h.clientsByUser[userID]; !ok {
		h.clientsByUser[userID] = make(map[*Client]struct{})
	}
	h.clientsByUser[userID][client] = struct{}{}
	h.mu.Unlock()

	h.presence.MarkOnline(userID, client.session)
	h.monitoring.ConnOpened()

	groupIDs, err := h.groups.GroupsForUser(userID)
	if err != nil {
		// The connection stays admitted; it can still receive direct
		// messages and join groups explicitly.
		h.log.Error("Membership sync failed", "user", userID, "err", err)
	}
	for _, groupID := range groupIDs {
		h.subscribe(client, domain.GroupID(groupID))
	}

	h.broadcastOnlineStatus()
}

// Disconnect is the only cancellation signal. It removes exactly this
// connection's handle everywhere; a newer connection of the same user keeps
// its own handles and therefore its presence.
func (h *Hub) Disconnect(client *Client) {
	userID := client.identity.ID

	h.mu.Lock()
	set, ok := h.clientsByUser[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, admitted := set[client]; !admitted {
		h.mu.Unlock()
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clientsByUser, userID)
	}
	for channel, members := range h.channels {
		delete(members, client)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()

	client.shutdown()
	h.presence.MarkOffline(userID, client.session)
	h.monitoring.ConnClosed()
	h.broadcastOnlineStatus()
}

// route dispatches one inbound frame. Validation failures are dropped
// silently: the event surface has no error frames.
func (h *Hub) route(client *Client, envelope Envelope) {
	switch envelope.Event {
	case EventJoinGroup:
		var payload JoinGroupPayload
		if !h.decode(envelope.Data, &payload) {
			return
		}
		h.JoinGroup(client, payload)
	case EventTyping:
		var payload TypingPayload
		if !h.decode(envelope.Data, &payload) {
			return
		}
		h.Typing(client, payload)
	case EventSendMessage:
		var payload SendMessagePayload
		if !h.decode(envelope.Data, &payload) {
			h.monitoring.IncrMessagesDropped()
			return
		}
		h.SendMessage(client, payload)
	case EventReactMessage:
		var payload ReactMessagePayload
		if !h.decode(envelope.Data, &payload) {
			return
		}
		h.ReactMessage(client, payload)
	default:
		h.log.Debug("Unknown event", "event", envelope.Event)
	}
}

func (h *Hub) decode(data json.RawMessage, payload any) bool {
	if err := json.Unmarshal(data, payload); err != nil {
		h.log.Debug("Dropping unparseable payload", "err", err)
		return false
	}
	if err := h.validate.Struct(payload); err != nil {
		h.log.Debug("Dropping invalid payload", "err", err)
		return false
	}
	return true
}

// JoinGroup subscribes the connection to a group channel on demand.
// The caller is trusted to only join groups it belongs to; membership was
// checked when the group was created or the user added.
func (h *Hub) JoinGroup(client *Client, payload JoinGroupPayload) {
	h.subscribe(client, domain.GroupID(payload.GroupID))
}

// SendMessage persists then fans out. Delivery strictly follows a successful
// write: a failed persistence aborts delivery, is logged, and the sender gets
// no signal (accepted loss, see DESIGN.md).
func (h *Hub) SendMessage(client *Client, payload SendMessagePayload) {
	sender := client.identity

	var conversationID, groupID string
	var isGroup bool
	switch {
	case payload.GroupID != "":
		conversationID = domain.GroupID(payload.GroupID)
		groupID = payload.GroupID
		isGroup = true
	case payload.RecipientID != "":
		conversationID = domain.DirectID(sender.ID, payload.RecipientID)
	default:
		h.log.Debug("Message without routing target dropped", "user", sender.ID)
		h.monitoring.IncrMessagesDropped()
		return
	}

	text := payload.MessageText
	if h.moderator != nil {
		censored, found := h.moderator.Censor(text)
		if len(found) > 0 {
			h.log.Info("Message censored", "user", sender.ID, "words", len(found))
		}
		text = censored
	}

	message, err := h.messages.StoreMessage(domain.Message{
		ConversationID: conversationID,
		SenderID:       sender.ID,
		Text:           text,
		IsGroup:        isGroup,
		GroupID:        groupID,
		Language:       moderation.DetectLanguage(text),
	})
	if err != nil {
		h.log.Error("Failed to persist message, delivery aborted", "user", sender.ID, "err", err)
		h.monitoring.IncrMessagesDropped()
		return
	}

	event := MessageEvent{
		ID:             message.ID.String(),
		ConversationID: message.ConversationID,
		MessageText:    message.Text,
		Sender:         SenderRef{ID: sender.ID, Username: sender.Username},
		IsGroup:        message.IsGroup,
		GroupID:        message.GroupID,
		Language:       message.Language,
		CreatedAt:      message.CreatedAt,
	}

	var delivered uint64
	if isGroup {
		// The sender's connection is subscribed to the group channel,
		// so no explicit echo is needed.
		delivered = deliver(h.collectChannel(conversationID, nil), EventReceiveMessage, event)
	} else {
		delivered = deliver(h.collectUser(payload.RecipientID), EventReceiveMessage, event)
		// Echo to the originating connection so the sender sees their
		// own outgoing message.
		delivered += deliver([]contract.EventSink{client}, EventReceiveMessage, event)
	}
	h.monitoring.IncrMessagesDelivered(delivered)
}

// ReactMessage merges a reaction and rebroadcasts the full resolved set.
// Reacting to an unknown message is a silent no-op.
func (h *Hub) ReactMessage(client *Client, payload ReactMessagePayload) {
	messageID, err := uuid.Parse(payload.MessageID)
	if err != nil {
		return
	}

	lock := h.reactionLock(messageID)
	lock.Lock()
	message, err := h.messages.UpsertReaction(messageID, client.identity.ID, payload.Emoji)
	lock.Unlock()

	if err == cherrors.ErrMessageNotFound {
		h.log.Debug("Reaction to unknown message ignored", "message", payload.MessageID)
		return
	}
	if err != nil {
		h.log.Error("Failed to persist reaction", "message", payload.MessageID, "err", err)
		return
	}
	h.monitoring.IncrReactionsMerged()

	userIDs := lo.Map(message.Reactions, func(r domain.Reaction, _ int) string { return r.UserID })
	usernames, err := h.users.ResolveUsernames(userIDs)
	if err != nil {
		h.log.Error("Failed to resolve reaction usernames", "err", err)
		return
	}

	event := ReactionEvent{
		MessageID: payload.MessageID,
		Reactions: lo.Map(message.Reactions, func(r domain.Reaction, _ int) ReactionRef {
			return ReactionRef{UserID: r.UserID, Username: usernames[r.UserID], Emoji: r.Emoji}
		}),
	}

	switch {
	case payload.GroupID != "":
		deliver(h.collectChannel(domain.GroupID(payload.GroupID), nil), EventMessageReaction, event)
	case payload.RecipientID != "":
		deliver(h.collectUser(payload.RecipientID), EventMessageReaction, event)
		deliver([]contract.EventSink{client}, EventMessageReaction, event)
	default:
		// No routing hint: broadcast to everyone rather than drop the
		// update. Callers should always supply hints; this path exists
		// so a merged reaction is never silently invisible.
		deliver(h.collectAll(), EventMessageReaction, event)
	}
}

// Typing forwards an ephemeral signal. Nothing is persisted or acknowledged;
// the receiving client expires the indicator on its own after a quiet window.
func (h *Hub) Typing(client *Client, payload TypingPayload) {
	switch {
	case payload.GroupID != "":
		event := TypingEvent{UserID: client.identity.ID, GroupID: payload.GroupID}
		deliver(h.collectChannel(domain.GroupID(payload.GroupID), client), EventTyping, event)
	case payload.RecipientID != "":
		deliver(h.collectUser(payload.RecipientID), EventTyping, TypingEvent{From: client.identity.ID})
	default:
		return
	}
	h.monitoring.IncrTypingRelayed()
}

// broadcastOnlineStatus publishes the full presence snapshot to every
// connection on each transition. Simple over frugal: at this scale a full
// rebroadcast beats tracking per-client deltas.
func (h *Hub) broadcastOnlineStatus() {
	ids := h.presence.OnlineUserIDs()
	usernames, err := h.users.ResolveUsernames(ids)
	if err != nil {
		h.log.Error("Failed to resolve online usernames", "err", err)
		return
	}

	online := lo.FilterMap(ids, func(id string, _ int) (OnlineUser, bool) {
		username, ok := usernames[id]
		return OnlineUser{UserID: id, Username: username}, ok
	})

	deliver(h.collectAll(), EventOnlineStatus, online)
}

func (h *Hub) subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][client] = struct{}{}
}

func (h *Hub) collectChannel(channel string, except *Client) []contract.EventSink {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var sinks []contract.EventSink
	for client := range h.channels[channel] {
		if client == except {
			continue
		}
		sinks = append(sinks, client)
	}
	return sinks
}

// collectUser gathers every connection admitted under one identity:
// the user's personal channel.
func (h *Hub) collectUser(userID string) []contract.EventSink {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var sinks []contract.EventSink
	for client := range h.clientsByUser[userID] {
		sinks = append(sinks, client)
	}
	return sinks
}

func (h *Hub) collectAll() []contract.EventSink {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var sinks []contract.EventSink
	for _, set := range h.clientsByUser {
		for client := range set {
			sinks = append(sinks, client)
		}
	}
	return sinks
}

func (h *Hub) reactionLock(id uuid.UUID) *sync.Mutex {
	hash := fnv.New32a()
	_, _ = hash.Write(id[:])
	return &h.reactionLocks[hash.Sum32()%reactionStripes]
}

// deliver fans one event out to a set of sinks and reports how many accepted it.
func deliver(sinks []contract.EventSink, event string, payload any) uint64 {
	var delivered uint64
	for _, sink := range sinks {
		if err := sink.Send(event, payload); err == nil {
			delivered++
		}
	}
	return delivered
}
