package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// HUB_ADDR is the host:port of a running hub; scenarios are skipped when unset.
	HubAddr string `envconfig:"HUB_ADDR"`
	// Seeded credentials, typically printed by cmd/seed.
	TokenA  string `envconfig:"E2E_TOKEN_A"`
	TokenB  string `envconfig:"E2E_TOKEN_B"`
	UserAID string `envconfig:"E2E_USER_A_ID"`
	UserBID string `envconfig:"E2E_USER_B_ID"`
	// E2E_DEBUG_JSON allows dumping full websocket frames as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
