package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// InitSettings are the values collected by `ccbridge config init`.
type InitSettings struct {
	Backend       string
	SlackBot      string
	SlackApp      string
	TelegramToken string
	DiscordToken  string
	Admins        []string
}

// WriteInitFile writes a starter config file. Platforms with a token are
// enabled. An existing file is overwritten.
func WriteInitFile(path string, s InitSettings) error {
	doc := map[string]any{
		"assistant": map[string]any{"backend": s.Backend},
		"roles":     map[string]any{"admins": nonNil(s.Admins), "default": "viewer"},
	}
	if s.SlackBot != "" || s.SlackApp != "" {
		doc["slack"] = map[string]any{
			"enabled":   s.SlackBot != "" && s.SlackApp != "",
			"bot_token": s.SlackBot,
			"app_token": s.SlackApp,
		}
	}
	if s.TelegramToken != "" {
		doc["telegram"] = map[string]any{"enabled": true, "token": s.TelegramToken}
	}
	if s.DiscordToken != "" {
		doc["discord"] = map[string]any{"enabled": true, "token": s.DiscordToken}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	// Tokens live in this file.
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
