//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"chat-hub/domain"
	cherrors "chat-hub/errors"
)

// reactionRetries bounds the optimistic-retry loop on transaction conflicts.
const reactionRetries = 5

type IMessageRepository interface {
	StoreMessage(message domain.Message) (domain.Message, error)
	GetMessage(id uuid.UUID) (domain.Message, error)
	UpsertReaction(id uuid.UUID, userID, emoji string) (domain.Message, error)
	GetMessages(conversationID string, cursor *string) ([]domain.Message, *string, error)
}

type MessageRepository struct {
	db            *badger.DB
	index         *MessageIndex
	log           *slog.Logger
	limitMessages *int
}

// NewMessageRepository builds a message store on top of BadgerDB.
// index may be nil when full-text search is disabled.
func NewMessageRepository(db *badger.DB, index *MessageIndex, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, index: index, log: log, limitMessages: limitMessages}
}

// diskMessage is the stored representation of a message.
type diskMessage struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	Text           string         `json:"text"`
	IsGroup        bool           `json:"is_group"`
	GroupID        string         `json:"group_id,omitempty"`
	Language       string         `json:"language,omitempty"`
	At             int64          `json:"at"`
	Reactions      []diskReaction `json:"reactions,omitempty"`
}

type diskReaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// StoreMessage persists a message and returns it with its store-assigned
// creation time. The primary key is "msg:{conversation}:{timestamp_padded}:{uuid}":
//  1. The 19-digit zero padding keeps keys chronologically sorted under
//     lexicographical iteration.
//  2. The UUID disambiguates two messages stored at the same nanosecond.
//
// A secondary key "msgid:{uuid}" points back to the primary key so reactions
// can locate a message by id alone.
func (m MessageRepository) StoreMessage(message domain.Message) (domain.Message, error) {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	key := primaryKey(message.ConversationID, message.CreatedAt, message.ID)
	bytes, err := json.Marshal(fromDomainMessage(message))
	if err != nil {
		return domain.Message{}, err
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), bytes); err != nil {
			return err
		}
		return txn.Set(idKey(message.ID), []byte(key))
	})
	if err != nil {
		return domain.Message{}, err
	}

	if m.index != nil {
		if err := m.index.Index(message); err != nil {
			// Search is a convenience on top of the store of record;
			// an index failure must not fail the write.
			m.log.Warn("Message index write failed", "id", message.ID, "err", err)
		}
	}

	return message, nil
}

// GetMessage resolves a message by id through the secondary key.
func (m MessageRepository) GetMessage(id uuid.UUID) (domain.Message, error) {
	var message domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		message, err = getByID(txn, id)
		return err
	})
	return message, err
}

// UpsertReaction merges a (user, emoji) reaction into a message's reaction set,
// replacing any previous reaction by the same user. The read-modify-write runs
// inside a single Badger transaction; concurrent reactions on the same message
// conflict and are retried, so no update is lost.
func (m MessageRepository) UpsertReaction(id uuid.UUID, userID, emoji string) (domain.Message, error) {
	var message domain.Message

	for attempt := 0; attempt < reactionRetries; attempt++ {
		err := m.db.Update(func(txn *badger.Txn) error {
			current, err := getByID(txn, id)
			if err != nil {
				return err
			}

			current.Reactions = domain.MergeReaction(current.Reactions, userID, emoji)

			bytes, err := json.Marshal(fromDomainMessage(current))
			if err != nil {
				return err
			}
			message = current
			return txn.Set([]byte(primaryKey(current.ConversationID, current.CreatedAt, current.ID)), bytes)
		})
		if err == nil {
			return message, nil
		}
		if err != badger.ErrConflict {
			return domain.Message{}, err
		}
		m.log.Debug("Reaction transaction conflict, retrying", "message", id, "attempt", attempt+1)
	}

	return domain.Message{}, cherrors.ErrConflictExhausted
}

// GetMessages retrieves a page of messages for a conversation, newest first,
// using a reverse prefix scan. The padded timestamp inside the key makes the
// scan naturally time-ordered; the returned cursor resumes the next page.
func (m MessageRepository) GetMessages(conversationID string, cursor *string) ([]domain.Message, *string, error) {
	var rawMessages [][]byte
	var lastKey string

	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%s:", conversationID)
		prefix := []byte(prefixStr)

		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible timestamp, then walk backwards.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(rawMessages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefixStr):])
			err := item.Value(func(value []byte) error {
				rawMessages = append(rawMessages, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var messages []domain.Message
	for _, b := range rawMessages {
		var dm diskMessage
		if err = json.Unmarshal(b, &dm); err != nil {
			return nil, nil, err
		}
		message, err := toDomainMessage(dm)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
	}
	return messages, &lastKey, nil
}

func getByID(txn *badger.Txn, id uuid.UUID) (domain.Message, error) {
	item, err := txn.Get(idKey(id))
	if err == badger.ErrKeyNotFound {
		return domain.Message{}, cherrors.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}

	var key []byte
	if err = item.Value(func(val []byte) error {
		key = append([]byte(nil), val...)
		return nil
	}); err != nil {
		return domain.Message{}, err
	}

	item, err = txn.Get(key)
	if err != nil {
		return domain.Message{}, err
	}

	var dm diskMessage
	if err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &dm)
	}); err != nil {
		return domain.Message{}, err
	}
	return toDomainMessage(dm)
}

func primaryKey(conversationID string, at time.Time, id uuid.UUID) string {
	return fmt.Sprintf("msg:%s:%019d:%s", conversationID, at.UnixNano(), id)
}

func idKey(id uuid.UUID) []byte {
	return []byte("msgid:" + id.String())
}

func fromDomainMessage(message domain.Message) diskMessage {
	reactions := make([]diskReaction, 0, len(message.Reactions))
	for _, r := range message.Reactions {
		reactions = append(reactions, diskReaction{UserID: r.UserID, Emoji: r.Emoji})
	}
	return diskMessage{
		ID:             message.ID.String(),
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Text:           message.Text,
		IsGroup:        message.IsGroup,
		GroupID:        message.GroupID,
		Language:       message.Language,
		At:             message.CreatedAt.UnixNano(),
		Reactions:      reactions,
	}
}

func toDomainMessage(dm diskMessage) (domain.Message, error) {
	parsedID, err := uuid.Parse(dm.ID)
	if err != nil {
		return domain.Message{}, err
	}
	reactions := make([]domain.Reaction, 0, len(dm.Reactions))
	for _, r := range dm.Reactions {
		reactions = append(reactions, domain.Reaction{UserID: r.UserID, Emoji: r.Emoji})
	}
	return domain.Message{
		ID:             parsedID,
		ConversationID: dm.ConversationID,
		SenderID:       dm.SenderID,
		Text:           dm.Text,
		IsGroup:        dm.IsGroup,
		GroupID:        dm.GroupID,
		Language:       dm.Language,
		CreatedAt:      time.Unix(0, dm.At).UTC(),
		Reactions:      reactions,
	}, nil
}
