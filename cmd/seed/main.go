package main

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"

	"chat-hub/auth"
	cherrors "chat-hub/errors"
	"chat-hub/repositories"
)

type Config struct {
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,required=true"`
}

type seedAccount struct {
	Username string
	Email    string
	Password string
}

var accounts = []seedAccount{
	{Username: "alice", Email: "alice@example.com", Password: "correct-horse-B4ttery"},
	{Username: "bob", Email: "bob@example.com", Password: "correct-horse-B4ttery"},
	{Username: "clara", Email: "clara@example.com", Password: "correct-horse-B4ttery"},
}

// Populates a fresh database with a few accounts and one shared group, then
// prints a ready-to-use websocket token per account.
func main() {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		log.Fatalf("Config error: %v", err)
	}
	auth.SetSigningKey(config.JWTSecret)

	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.ERROR))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	users := repositories.NewUserRepository(db)
	groups := repositories.NewGroupRepository(db)

	header := color.New(color.BgBlack, color.FgGreen)
	header.Println("  ====== Seeding chat-hub ======")

	var memberIDs []string
	for _, account := range accounts {
		if err := auth.ValidateRegister(auth.RegisterRequest{
			Username: account.Username,
			Email:    account.Email,
			Password: account.Password,
		}); err != nil {
			log.Fatalf("Invalid seed account %s: %v", account.Username, err)
		}

		hash, err := auth.HashPassword(account.Password)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}

		user, err := users.CreateUser(account.Username, account.Email, hash)
		if errors.Is(err, cherrors.ErrUserAlreadyExists) {
			user, err = users.GetUserByEmail(account.Email)
			if err != nil {
				log.Fatalf("Failed to resolve existing account %s: %v", account.Email, err)
			}
			color.Yellow.Printf("  %s already exists (%s)\n", account.Username, user.ID)
		} else if err != nil {
			log.Fatalf("Failed to create %s: %v", account.Username, err)
		} else {
			color.Green.Printf("  created %s (%s)\n", account.Username, user.ID)
		}

		memberIDs = append(memberIDs, user.ID)

		token, err := auth.GenerateToken(user.ID, user.Username, config.AuthTokenDuration)
		if err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		fmt.Printf("    token: %s\n", token)
	}

	group, err := groups.CreateGroup("general", memberIDs[0], memberIDs[1:])
	if err != nil {
		log.Fatalf("Failed to create group: %v", err)
	}
	color.Green.Printf("  created group %q (%s) with %d members\n", group.Name, group.ID, len(group.Members))

	header.Println("  ====== Done ======")
}
