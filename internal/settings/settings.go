// Package settings persists the user's display preferences. Settings are
// loaded once at startup and written back whenever they change.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/strrl/agentchat/internal/logger"
	"gopkg.in/yaml.v3"
)

// Settings are display preferences shown by the chat UI
type Settings struct {
	BotName        string `yaml:"bot_name"`
	BotDescription string `yaml:"bot_description"`
	LogoURL        string `yaml:"logo_url"`
	ContactLink    string `yaml:"contact_link"`
}

// Defaults returns the settings used before the user changes anything
func Defaults() Settings {
	return Settings{
		BotName:        "Time Series Agent",
		BotDescription: "Your AI assistant for time series data analysis.",
	}
}

// Manager owns the settings file
type Manager struct {
	mu      sync.Mutex
	path    string
	current Settings
}

// Load reads settings from path. A missing file yields defaults; an
// unreadable or corrupt one is logged and also yields defaults.
func Load(path string) *Manager {
	m := &Manager{path: path, current: Defaults()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m
	}
	if err != nil {
		logger.Warn("failed to read settings", "path", path, "err", err)
		return m
	}

	loaded := Defaults()
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		logger.Warn("failed to parse saved settings", "path", path, "err", err)
		return m
	}
	m.current = loaded
	return m
}

// Path returns the settings file location
func (m *Manager) Path() string {
	return m.path
}

// Get returns the current settings
func (m *Manager) Get() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Update applies fn and saves the result if anything changed
func (m *Manager) Update(fn func(*Settings)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.current
	fn(&next)
	if next == m.current {
		return nil
	}
	if err := save(m.path, next); err != nil {
		return err
	}
	m.current = next
	return nil
}

// Set changes a single setting by its file key
func (m *Manager) Set(key, value string) error {
	var field func(*Settings) *string
	switch key {
	case "bot_name":
		field = func(s *Settings) *string { return &s.BotName }
	case "bot_description":
		field = func(s *Settings) *string { return &s.BotDescription }
	case "logo_url":
		field = func(s *Settings) *string { return &s.LogoURL }
	case "contact_link":
		field = func(s *Settings) *string { return &s.ContactLink }
	default:
		return fmt.Errorf("unknown setting %q (valid: %v)", key, Keys())
	}
	return m.Update(func(s *Settings) { *field(s) = value })
}

// Keys lists the settable keys
func Keys() []string {
	keys := []string{"bot_name", "bot_description", "logo_url", "contact_link"}
	sort.Strings(keys)
	return keys
}

func save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
