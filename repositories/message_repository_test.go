package repositories

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat-hub/domain"
	cherrors "chat-hub/errors"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func Test_Record_And_Get_Sorted_Messages(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), nil, slog.Default(), nil)

	conversation := domain.DirectID("u1", "u2")
	at := time.Now().UTC()
	texts := []string{"first", "second", "third"}
	for i, text := range texts {
		_, err := repository.StoreMessage(domain.Message{
			ConversationID: conversation,
			SenderID:       "u1",
			Text:           text,
			CreatedAt:      at.Add(time.Duration(i) * time.Minute),
		})
		req.NoError(err)
	}

	// Newest first
	fetched, _, err := repository.GetMessages(conversation, nil)
	req.NoError(err)
	req.Len(fetched, 3)
	req.Equal("third", fetched[0].Text)
	req.Equal("second", fetched[1].Text)
	req.Equal("first", fetched[2].Text)
}

func Test_Record_Multiple_Message_And_Limit(t *testing.T) {
	req := require.New(t)
	limit := 2
	repository := NewMessageRepository(openTestDB(t), nil, slog.Default(), &limit)

	conversation := domain.GroupID("g1")
	at := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := repository.StoreMessage(domain.Message{
			ConversationID: conversation,
			SenderID:       "u1",
			Text:           "this message will self destruct in 5 seconds",
			CreatedAt:      at.Add(time.Duration(i) * time.Minute),
		})
		req.NoError(err)
	}

	fetched, _, err := repository.GetMessages(conversation, nil)
	req.NoError(err)
	req.Len(fetched, limit)
}

func Test_MessageRepository_Pagination(t *testing.T) {
	req := require.New(t)
	limit := 2
	repository := NewMessageRepository(openTestDB(t), nil, slog.Default(), &limit)

	conversation := domain.GroupID("g7")
	at := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, err := repository.StoreMessage(domain.Message{
			ConversationID: conversation,
			SenderID:       "u1",
			Text:           "page me",
			CreatedAt:      at.Add(time.Duration(i) * time.Minute),
		})
		req.NoError(err)
	}

	var collected []domain.Message
	var cursor *string
	for i := 0; i < 3; i++ {
		page, next, err := repository.GetMessages(conversation, cursor)
		req.NoError(err)
		collected = append(collected, page...)
		cursor = next
	}
	req.Len(collected, 5)

	// No duplicates across pages
	seen := map[uuid.UUID]struct{}{}
	for _, m := range collected {
		_, dup := seen[m.ID]
		req.False(dup)
		seen[m.ID] = struct{}{}
	}
}

func Test_GetMessage_ByID(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), nil, slog.Default(), nil)

	stored, err := repository.StoreMessage(domain.Message{
		ConversationID: domain.DirectID("u1", "u2"),
		SenderID:       "u1",
		Text:           "hi",
	})
	req.NoError(err)
	req.NotEqual(uuid.Nil, stored.ID)
	req.False(stored.CreatedAt.IsZero())

	fetched, err := repository.GetMessage(stored.ID)
	req.NoError(err)
	req.Equal(stored.ID, fetched.ID)
	req.Equal("hi", fetched.Text)

	_, err = repository.GetMessage(uuid.New())
	req.ErrorIs(err, cherrors.ErrMessageNotFound)
}

func Test_UpsertReaction_MergesPerUser(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), nil, slog.Default(), nil)

	stored, err := repository.StoreMessage(domain.Message{
		ConversationID: domain.DirectID("u1", "u2"),
		SenderID:       "u1",
		Text:           "react to me",
	})
	req.NoError(err)

	_, err = repository.UpsertReaction(stored.ID, "u2", "👍")
	req.NoError(err)
	updated, err := repository.UpsertReaction(stored.ID, "u2", "❤️")
	req.NoError(err)

	req.Len(updated.Reactions, 1)
	req.Equal(domain.Reaction{UserID: "u2", Emoji: "❤️"}, updated.Reactions[0])

	// A second user adds their own entry
	updated, err = repository.UpsertReaction(stored.ID, "u1", "😂")
	req.NoError(err)
	req.Len(updated.Reactions, 2)

	// Reactions survive a reload
	fetched, err := repository.GetMessage(stored.ID)
	req.NoError(err)
	req.Len(fetched.Reactions, 2)
}

func Test_UpsertReaction_UnknownMessage(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openTestDB(t), nil, slog.Default(), nil)

	_, err := repository.UpsertReaction(uuid.New(), "u1", "👍")
	req.ErrorIs(err, cherrors.ErrMessageNotFound)
}
