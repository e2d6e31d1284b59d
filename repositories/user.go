//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	cherrors "chat-hub/errors"
)

type IUserRepository interface {
	CreateUser(username, email, hashedPassword string) (User, error)
	GetUser(id string) (User, error)
	GetUserByEmail(email string) (User, error)
	ResolveUsernames(ids []string) (map[string]string, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) UserRepository {
	return UserRepository{db: db}
}

// User is the stored representation of an account. The hub itself only ever
// needs the id and username; the rest belongs to the account workflows.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser persists a new account under "user:{id}" with a "useremail:{email}"
// uniqueness index, and returns it with its generated id.
func (u UserRepository) CreateUser(username, email, hashedPassword string) (User, error) {
	user := User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
		CreatedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(user)
	if err != nil {
		return User{}, err
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		emailKey := []byte("useremail:" + email)
		if _, err := txn.Get(emailKey); err == nil {
			return cherrors.ErrUserAlreadyExists
		}
		if err := txn.Set(emailKey, []byte(user.ID)); err != nil {
			return err
		}
		return txn.Set([]byte("user:"+user.ID), data)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (u UserRepository) GetUser(id string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		return readUser(txn, id, &user)
	})
	return user, err
}

func (u UserRepository) GetUserByEmail(email string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("useremail:" + email))
		if err == badger.ErrKeyNotFound {
			return cherrors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		var id string
		if err = item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}
		return readUser(txn, id, &user)
	})
	return user, err
}

// ResolveUsernames maps user ids to display names in one read transaction.
// Unknown ids are skipped rather than failing the whole resolution: a stale
// presence entry must not break an online_status broadcast.
func (u UserRepository) ResolveUsernames(ids []string) (map[string]string, error) {
	usernames := make(map[string]string, len(ids))
	err := u.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			var user User
			if err := readUser(txn, id, &user); err != nil {
				if err == cherrors.ErrUserNotFound {
					continue
				}
				return err
			}
			usernames[id] = user.Username
		}
		return nil
	})
	return usernames, err
}

func readUser(txn *badger.Txn, id string, user *User) error {
	item, err := txn.Get([]byte("user:" + id))
	if err == badger.ErrKeyNotFound {
		return cherrors.ErrUserNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, user)
	})
}
