package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for filegate. Every optional feature is
// an explicit field with a default applied in Validate; nothing is looked up
// dynamically at runtime.
type Config struct {
	Bot          BotConfig            `toml:"bot"`
	Storage      StorageConfig        `toml:"storage"`
	Verification VerificationConfig   `toml:"verification"`
	Shortener    ShortenerConfig      `toml:"shortener"`
	Channels     []ChannelRequirement `toml:"channels"`
	Database     DatabaseConfig       `toml:"database"`
	Web          WebConfig            `toml:"web"`
	LogDir       string               `toml:"log_dir"`
}

// BotConfig identifies the bot and its operators.
type BotConfig struct {
	Token  string  `toml:"token"`
	Owner  int64   `toml:"owner"`
	Admins []int64 `toml:"admins"`
}

// StorageConfig describes the private channel holding the content.
type StorageConfig struct {
	ChannelID      int64 `toml:"channel_id"`
	ProtectContent bool  `toml:"protect_content"`
	// AutoDeleteSeconds > 0 deletes delivered batches after this many
	// seconds. Zero disables auto-deletion.
	AutoDeleteSeconds int `toml:"auto_delete_seconds"`
}

// VerificationConfig tunes the verify-by-click challenge.
// TTLSeconds <= 0 disables verification entirely.
type VerificationConfig struct {
	TTLSeconds  int    `toml:"ttl_seconds"`
	TutorialURL string `toml:"tutorial_url,omitempty"`
	PremiumURL  string `toml:"premium_url,omitempty"`
}

// ShortenerConfig points at the URL-shortening service. An empty host
// disables shortening; links are presented raw.
type ShortenerConfig struct {
	Host   string `toml:"host,omitempty"`
	APIKey string `toml:"api_key,omitempty"`
}

// ChannelRequirement is one force-subscribe channel.
type ChannelRequirement struct {
	ID          int64  `toml:"id"`
	Name        string `toml:"name"`
	InviteLink  string `toml:"invite_link,omitempty"`
	RequestMode bool   `toml:"request_mode"`
	// LinkTTLMinutes > 0 mints fresh invite links with this expiry for
	// unsatisfied users instead of reusing the stored link.
	LinkTTLMinutes int `toml:"link_ttl_minutes"`
}

// DatabaseConfig selects the persistent store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// WebConfig exposes the verification web hook. An empty listen address
// disables the web server.
type WebConfig struct {
	ListenAddr string `toml:"listen_addr,omitempty"`
	// BaseURL is the public prefix for one-time retrieval links, e.g.
	// "https://files.example.com".
	BaseURL string `toml:"base_url,omitempty"`
	// TokenTTLMinutes bounds how long an unused web token stays redeemable.
	TokenTTLMinutes int `toml:"token_ttl_minutes"`
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		Storage: StorageConfig{AutoDeleteSeconds: 0},
		Verification: VerificationConfig{
			TTLSeconds: 600,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Web: WebConfig{
			TokenTTLMinutes: 5,
		},
		LogDir: filepath.Join(baseDir, "log"),
	}
}

// Validate checks the configuration once at load time and applies defaults
// for omitted optional fields.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return fmt.Errorf("bot.token is required")
	}
	if c.Bot.Owner == 0 {
		return fmt.Errorf("bot.owner is required")
	}
	if c.Storage.ChannelID == 0 {
		return fmt.Errorf("storage.channel_id is required")
	}
	if c.Storage.AutoDeleteSeconds < 0 {
		return fmt.Errorf("storage.auto_delete_seconds must not be negative")
	}
	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("database.data_dir is required for type=sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database type: %s", c.Database.Type)
	}
	for i, ch := range c.Channels {
		if ch.ID == 0 {
			return fmt.Errorf("channels[%d].id is required", i)
		}
		if ch.LinkTTLMinutes < 0 {
			return fmt.Errorf("channels[%d].link_ttl_minutes must not be negative", i)
		}
	}
	if c.Shortener.Host != "" && c.Shortener.APIKey == "" {
		return fmt.Errorf("shortener.api_key is required when shortener.host is set")
	}
	if c.Web.TokenTTLMinutes <= 0 {
		c.Web.TokenTTLMinutes = 5
	}
	return nil
}

// AdminIDs returns the admin set with the owner always included.
func (c *Config) AdminIDs() []int64 {
	for _, id := range c.Bot.Admins {
		if id == c.Bot.Owner {
			return c.Bot.Admins
		}
	}
	return append([]int64{c.Bot.Owner}, c.Bot.Admins...)
}

// AutoDelete returns the configured auto-delete window as a duration.
func (c *Config) AutoDelete() time.Duration {
	return time.Duration(c.Storage.AutoDeleteSeconds) * time.Second
}

// VerifyTTL returns the verification validity window as a duration.
func (c *Config) VerifyTTL() time.Duration {
	return time.Duration(c.Verification.TTLSeconds) * time.Second
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
