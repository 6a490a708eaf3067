package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names for secrets.
const (
	EnvOAuthToken = "TWITCH_OAUTH_TOKEN"
	EnvClientID   = "TWITCH_CLIENT_ID"
	EnvHelixToken = "TWITCH_HELIX_TOKEN"
	EnvDebugToken = "BOTOX_DEBUG_TOKEN"
)

// Secrets never live in the config file and are never logged.
type Secrets struct {
	// OAuthToken is the chat token without the "oauth:" prefix. Empty means
	// anonymous login.
	OAuthToken string
	ClientID   string
	HelixToken string
	DebugToken string
}

// LoadSecrets loads envFile (if it exists) into the process environment
// without overriding variables that are already set, then reads the secrets.
func LoadSecrets(envFile string) (Secrets, error) {
	if envFile = strings.TrimSpace(envFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Secrets{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return SecretsFromEnv(os.Getenv), nil
}

// SecretsFromEnv reads the secrets through getenv.
func SecretsFromEnv(getenv func(string) string) Secrets {
	tok := strings.TrimSpace(getenv(EnvOAuthToken))
	if len(tok) >= len("oauth:") && strings.EqualFold(tok[:len("oauth:")], "oauth:") {
		tok = tok[len("oauth:"):]
	}
	helixTok := strings.TrimSpace(getenv(EnvHelixToken))
	if helixTok == "" {
		helixTok = tok
	}
	return Secrets{
		OAuthToken: tok,
		ClientID:   strings.TrimSpace(getenv(EnvClientID)),
		HelixToken: helixTok,
		DebugToken: strings.TrimSpace(getenv(EnvDebugToken)),
	}
}

// Anonymous reports whether the bot logs in without a token (read-only).
func (s Secrets) Anonymous() bool { return s.OAuthToken == "" }

// HelixReady reports whether the Helix client can be built.
func (s Secrets) HelixReady() bool { return s.ClientID != "" && s.HelixToken != "" }
