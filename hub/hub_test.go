package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chat-hub/domain"
	"chat-hub/mocks"
	"chat-hub/observability"
	"chat-hub/repositories"
)

type testEnv struct {
	hub      *Hub
	db       *badger.DB
	messages repositories.MessageRepository
	groups   repositories.GroupRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	messages := repositories.NewMessageRepository(db, nil, log, nil)
	users := repositories.NewUserRepository(db)
	groups := repositories.NewGroupRepository(db)

	h := NewHub(log, NewPresenceRegistry(), messages, users, groups, nil, observability.NewMonitor(log))
	return &testEnv{hub: h, db: db, messages: messages, groups: groups}
}

// seedUser writes an account record directly so tests can use stable ids.
func seedUser(t *testing.T, db *badger.DB, id, username string) {
	t.Helper()
	data, err := json.Marshal(repositories.User{ID: id, Username: username})
	require.NoError(t, err)
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("user:"+id), data)
	}))
}

func (e *testEnv) connect(t *testing.T, id, username string) *Client {
	t.Helper()
	client := NewClient(e.hub, nil, domain.Identity{ID: id, Username: username},
		e.hub.presence.NextSession(), slog.Default())
	e.hub.Admit(client)
	return client
}

// frames drains every queued outbound frame of a client.
func frames(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case raw := <-c.send:
			var envelope Envelope
			require.NoError(t, json.Unmarshal(raw, &envelope))
			out = append(out, envelope)
		default:
			return out
		}
	}
}

func eventsOf(envelopes []Envelope, event string) []json.RawMessage {
	var out []json.RawMessage
	for _, e := range envelopes {
		if e.Event == event {
			out = append(out, e.Data)
		}
	}
	return out
}

func rawPayload(t *testing.T, payload any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return data
}

func TestDirectMessage_DeliveredAndEchoedExactlyOnce(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")
	seedUser(t, env.db, "u2", "bob")

	alice := env.connect(t, "u1", "alice")
	aliceTablet := env.connect(t, "u1", "alice")
	bob := env.connect(t, "u2", "bob")
	frames(t, alice)
	frames(t, aliceTablet)
	frames(t, bob)

	env.hub.route(alice, Envelope{
		Event: EventSendMessage,
		Data:  rawPayload(t, SendMessagePayload{RecipientID: "u2", MessageText: "hi"}),
	})

	received := eventsOf(frames(t, bob), EventReceiveMessage)
	req.Len(received, 1)
	var event MessageEvent
	req.NoError(json.Unmarshal(received[0], &event))
	req.Equal("direct:u1:u2", event.ConversationID)
	req.Equal("hi", event.MessageText)
	req.Equal(SenderRef{ID: "u1", Username: "alice"}, event.Sender)
	req.False(event.IsGroup)

	// Echo goes to the originating connection only, exactly once.
	req.Len(eventsOf(frames(t, alice), EventReceiveMessage), 1)
	req.Empty(eventsOf(frames(t, aliceTablet), EventReceiveMessage))
}

func TestGroupMessage_DeliveredToSubscribersOnly(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")
	seedUser(t, env.db, "u2", "bob")
	seedUser(t, env.db, "u3", "clara")

	group, err := env.groups.CreateGroup("gophers", "u1", []string{"u2"})
	req.NoError(err)

	alice := env.connect(t, "u1", "alice")
	bob := env.connect(t, "u2", "bob")
	outsider := env.connect(t, "u3", "clara")
	frames(t, alice)
	frames(t, bob)
	frames(t, outsider)

	env.hub.route(alice, Envelope{
		Event: EventSendMessage,
		Data:  rawPayload(t, SendMessagePayload{GroupID: group.ID, MessageText: "standup in 5"}),
	})

	// Sender is subscribed to its own group channel, so no explicit echo
	// is needed: channel delivery already reaches it.
	req.Len(eventsOf(frames(t, alice), EventReceiveMessage), 1)
	received := eventsOf(frames(t, bob), EventReceiveMessage)
	req.Len(received, 1)
	var event MessageEvent
	req.NoError(json.Unmarshal(received[0], &event))
	req.Equal(domain.GroupID(group.ID), event.ConversationID)
	req.True(event.IsGroup)
	req.Equal(group.ID, event.GroupID)

	req.Empty(eventsOf(frames(t, outsider), EventReceiveMessage))
}

func TestJoinGroup_SubscribesOnDemand(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")
	seedUser(t, env.db, "u2", "bob")

	group, err := env.groups.CreateGroup("late crew", "u1", nil)
	req.NoError(err)

	alice := env.connect(t, "u1", "alice")
	bob := env.connect(t, "u2", "bob")
	frames(t, alice)
	frames(t, bob)

	// Bob is not a member yet, but joins the channel explicitly.
	env.hub.route(bob, Envelope{
		Event: EventJoinGroup,
		Data:  rawPayload(t, JoinGroupPayload{GroupID: group.ID}),
	})

	env.hub.route(alice, Envelope{
		Event: EventSendMessage,
		Data:  rawPayload(t, SendMessagePayload{GroupID: group.ID, MessageText: "welcome"}),
	})

	req.Len(eventsOf(frames(t, bob), EventReceiveMessage), 1)
}

func TestSendMessage_EmptyTextDropped(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")
	seedUser(t, env.db, "u2", "bob")

	alice := env.connect(t, "u1", "alice")
	bob := env.connect(t, "u2", "bob")
	frames(t, alice)
	frames(t, bob)

	env.hub.route(alice, Envelope{
		Event: EventSendMessage,
		Data:  rawPayload(t, SendMessagePayload{RecipientID: "u2", MessageText: ""}),
	})

	req.Empty(eventsOf(frames(t, bob), EventReceiveMessage))
	req.Empty(eventsOf(frames(t, alice), EventReceiveMessage))

	stored, _, err := env.messages.GetMessages(domain.DirectID("u1", "u2"), nil)
	req.NoError(err)
	req.Empty(stored)
}

func TestSendMessage_MissingTargetDropped(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")

	alice := env.connect(t, "u1", "alice")
	frames(t, alice)

	env.hub.route(alice, Envelope{
		Event: EventSendMessage,
		Data:  rawPayload(t, SendMessagePayload{MessageText: "to nobody"}),
	})

	req.Empty(eventsOf(frames(t, alice), EventReceiveMessage))
}

func TestSendMessage_PersistenceFailureAbortsDelivery(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })
	seedUser(t, db, "u1", "alice")
	seedUser(t, db, "u2", "bob")

	store := mocks.NewMockIMessageRepository(ctrl)
	store.EXPECT().StoreMessage(gomock.Any()).Return(domain.Message{}, fmt.Errorf("store unavailable"))

	log := slog.Default()
	h := NewHub(log, NewPresenceRegistry(), store, repositories.NewUserRepository(db),
		repositories.NewGroupRepository(db), nil, observability.NewMonitor(log))
	env := &testEnv{hub: h, db: db}

	alice := env.connect(t, "u1", "alice")
	bob := env.connect(t, "u2", "bob")
	frames(t, alice)
	frames(t, bob)

	env.hub.route(alice, Envelope{
		Event: EventSendMessage,
		Data:  rawPayload(t, SendMessagePayload{RecipientID: "u2", MessageText: "lost"}),
	})

	// Delivery strictly follows persistence: nothing arrives anywhere.
	req.Empty(eventsOf(frames(t, bob), EventReceiveMessage))
	req.Empty(eventsOf(frames(t, alice), EventReceiveMessage))
}

func TestReactMessage_MergeAndRebroadcast(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")
	seedUser(t, env.db, "u2", "bob")

	alice := env.connect(t, "u1", "alice")
	bob := env.connect(t, "u2", "bob")
	frames(t, alice)
	frames(t, bob)

	stored, err := env.messages.StoreMessage(domain.Message{
		ConversationID: domain.DirectID("u1", "u2"),
		SenderID:       "u1",
		Text:           "react to me",
	})
	req.NoError(err)

	env.hub.route(bob, Envelope{
		Event: EventReactMessage,
		Data:  rawPayload(t, ReactMessagePayload{MessageID: stored.ID.String(), Emoji: "👍", RecipientID: "u1"}),
	})
	env.hub.route(bob, Envelope{
		Event: EventReactMessage,
		Data:  rawPayload(t, ReactMessagePayload{MessageID: stored.ID.String(), Emoji: "❤️", RecipientID: "u1"}),
	})

	reactions := eventsOf(frames(t, alice), EventMessageReaction)
	req.Len(reactions, 2)
	var last ReactionEvent
	req.NoError(json.Unmarshal(reactions[1], &last))
	req.Equal(stored.ID.String(), last.MessageID)
	req.Len(last.Reactions, 1)
	req.Equal(ReactionRef{UserID: "u2", Username: "bob", Emoji: "❤️"}, last.Reactions[0])
}

func TestReactMessage_ConcurrentUsersKeepOneEntryEach(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")
	seedUser(t, env.db, "u2", "bob")

	alice := env.connect(t, "u1", "alice")
	bob := env.connect(t, "u2", "bob")

	stored, err := env.messages.StoreMessage(domain.Message{
		ConversationID: domain.DirectID("u1", "u2"),
		SenderID:       "u1",
		Text:           "busy message",
	})
	req.NoError(err)

	var wg sync.WaitGroup
	react := func(c *Client, emoji string) {
		defer wg.Done()
		env.hub.ReactMessage(c, ReactMessagePayload{
			MessageID:   stored.ID.String(),
			Emoji:       emoji,
			RecipientID: "u2",
		})
	}
	wg.Add(2)
	go react(alice, "👍")
	go react(bob, "😂")
	wg.Wait()

	final, err := env.messages.GetMessage(stored.ID)
	req.NoError(err)
	req.Len(final.Reactions, 2)
	emojiByUser := map[string]string{}
	for _, r := range final.Reactions {
		emojiByUser[r.UserID] = r.Emoji
	}
	req.Equal(map[string]string{"u1": "👍", "u2": "😂"}, emojiByUser)
}

func TestReactMessage_UnknownMessageIsNoOp(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")

	alice := env.connect(t, "u1", "alice")
	frames(t, alice)

	env.hub.route(alice, Envelope{
		Event: EventReactMessage,
		Data:  rawPayload(t, ReactMessagePayload{MessageID: "8c2f9a34-9f0b-4f4e-a0d7-24f7f2f0a111", Emoji: "👍"}),
	})

	req.Empty(eventsOf(frames(t, alice), EventMessageReaction))
}

func TestReactMessage_NoRoutingHintBroadcastsToAll(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")
	seedUser(t, env.db, "u2", "bob")
	seedUser(t, env.db, "u3", "clara")

	alice := env.connect(t, "u1", "alice")
	bystander := env.connect(t, "u3", "clara")

	stored, err := env.messages.StoreMessage(domain.Message{
		ConversationID: domain.DirectID("u1", "u2"),
		SenderID:       "u1",
		Text:           "fallback",
	})
	req.NoError(err)
	frames(t, alice)
	frames(t, bystander)

	env.hub.route(alice, Envelope{
		Event: EventReactMessage,
		Data:  rawPayload(t, ReactMessagePayload{MessageID: stored.ID.String(), Emoji: "🔥"}),
	})

	req.Len(eventsOf(frames(t, bystander), EventMessageReaction), 1)
}

func TestTyping_GroupExcludesSenderDirectReachesRecipient(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")
	seedUser(t, env.db, "u2", "bob")

	group, err := env.groups.CreateGroup("typists", "u1", []string{"u2"})
	req.NoError(err)

	alice := env.connect(t, "u1", "alice")
	bob := env.connect(t, "u2", "bob")
	frames(t, alice)
	frames(t, bob)

	env.hub.route(alice, Envelope{
		Event: EventTyping,
		Data:  rawPayload(t, TypingPayload{GroupID: group.ID}),
	})

	groupTyping := eventsOf(frames(t, bob), EventTyping)
	req.Len(groupTyping, 1)
	var event TypingEvent
	req.NoError(json.Unmarshal(groupTyping[0], &event))
	req.Equal("u1", event.UserID)
	req.Equal(group.ID, event.GroupID)
	req.Empty(eventsOf(frames(t, alice), EventTyping))

	env.hub.route(bob, Envelope{
		Event: EventTyping,
		Data:  rawPayload(t, TypingPayload{RecipientID: "u1"}),
	})

	directTyping := eventsOf(frames(t, alice), EventTyping)
	req.Len(directTyping, 1)
	req.NoError(json.Unmarshal(directTyping[0], &event))
	req.Equal("u2", event.From)

	// Typing is never persisted
	stored, _, err := env.messages.GetMessages(domain.DirectID("u1", "u2"), nil)
	req.NoError(err)
	req.Empty(stored)
}

func TestOnlineStatus_BroadcastOnConnectAndDisconnect(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")
	seedUser(t, env.db, "u2", "bob")

	alice := env.connect(t, "u1", "alice")
	bob := env.connect(t, "u2", "bob")

	snapshots := eventsOf(frames(t, alice), EventOnlineStatus)
	req.NotEmpty(snapshots)
	var online []OnlineUser
	req.NoError(json.Unmarshal(snapshots[len(snapshots)-1], &online))
	req.ElementsMatch([]OnlineUser{
		{UserID: "u1", Username: "alice"},
		{UserID: "u2", Username: "bob"},
	}, online)

	env.hub.Disconnect(bob)

	snapshots = eventsOf(frames(t, alice), EventOnlineStatus)
	req.NotEmpty(snapshots)
	req.NoError(json.Unmarshal(snapshots[len(snapshots)-1], &online))
	req.Equal([]OnlineUser{{UserID: "u1", Username: "alice"}}, online)
}

func TestOnlineStatus_MultiDeviceSurvivesSingleDisconnect(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")
	seedUser(t, env.db, "u2", "bob")

	alicePhone := env.connect(t, "u1", "alice")
	aliceLaptop := env.connect(t, "u1", "alice")
	bob := env.connect(t, "u2", "bob")
	frames(t, bob)

	env.hub.Disconnect(alicePhone)

	snapshots := eventsOf(frames(t, bob), EventOnlineStatus)
	req.NotEmpty(snapshots)
	var online []OnlineUser
	req.NoError(json.Unmarshal(snapshots[len(snapshots)-1], &online))
	req.Contains(online, OnlineUser{UserID: "u1", Username: "alice"})

	env.hub.Disconnect(aliceLaptop)

	snapshots = eventsOf(frames(t, bob), EventOnlineStatus)
	req.NoError(json.Unmarshal(snapshots[len(snapshots)-1], &online))
	req.NotContains(online, OnlineUser{UserID: "u1", Username: "alice"})
}

func TestRoute_MalformedPayloadDropped(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	seedUser(t, env.db, "u1", "alice")

	alice := env.connect(t, "u1", "alice")
	frames(t, alice)

	env.hub.route(alice, Envelope{Event: EventSendMessage, Data: json.RawMessage(`{"messageText": 42}`)})
	env.hub.route(alice, Envelope{Event: "unknown_event", Data: json.RawMessage(`{}`)})

	req.Empty(frames(t, alice))
}
