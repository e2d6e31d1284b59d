//go:generate go run go.uber.org/mock/mockgen -source=group.go -destination=../mocks/mock_group_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"chat-hub/domain"
	cherrors "chat-hub/errors"
)

type IGroupRepository interface {
	CreateGroup(name, createdBy string, members []string) (domain.Group, error)
	GetGroup(id string) (domain.Group, error)
	AddMember(groupID, userID string) error
	GroupsForUser(userID string) ([]string, error)
}

type GroupRepository struct {
	db *badger.DB
}

func NewGroupRepository(db *badger.DB) GroupRepository {
	return GroupRepository{db: db}
}

// CreateGroup persists a group under "grp:{id}" and one "member:{user}:{group}"
// index entry per member. The creator is always a member.
func (g GroupRepository) CreateGroup(name, createdBy string, members []string) (domain.Group, error) {
	group := domain.Group{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}

	seen := map[string]struct{}{}
	for _, m := range append([]string{createdBy}, members...) {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		group.Members = append(group.Members, m)
	}

	data, err := json.Marshal(group)
	if err != nil {
		return domain.Group{}, err
	}

	err = g.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte("grp:"+group.ID), data); err != nil {
			return err
		}
		for _, m := range group.Members {
			if err := txn.Set(memberKey(m, group.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Group{}, err
	}
	return group, nil
}

func (g GroupRepository) GetGroup(id string) (domain.Group, error) {
	var group domain.Group
	err := g.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("grp:" + id))
		if err == badger.ErrKeyNotFound {
			return cherrors.ErrGroupNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &group)
		})
	})
	return group, err
}

// AddMember appends a user to the group's member list and membership index.
// Adding an existing member is a no-op.
func (g GroupRepository) AddMember(groupID, userID string) error {
	return g.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("grp:" + groupID))
		if err == badger.ErrKeyNotFound {
			return cherrors.ErrGroupNotFound
		}
		if err != nil {
			return err
		}

		var group domain.Group
		if err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &group)
		}); err != nil {
			return err
		}

		if group.HasMember(userID) {
			return nil
		}
		group.Members = append(group.Members, userID)

		data, err := json.Marshal(group)
		if err != nil {
			return err
		}
		if err = txn.Set([]byte("grp:"+group.ID), data); err != nil {
			return err
		}
		return txn.Set(memberKey(userID, group.ID), nil)
	})
}

// GroupsForUser lists the ids of every group the user belongs to via a prefix
// scan over the membership index.
func (g GroupRepository) GroupsForUser(userID string) ([]string, error) {
	var groupIDs []string
	prefix := []byte("member:" + userID + ":")

	err := g.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			groupIDs = append(groupIDs, string(key[len(prefix):]))
		}
		return nil
	})
	return groupIDs, err
}

func memberKey(userID, groupID string) []byte {
	return []byte("member:" + userID + ":" + groupID)
}
