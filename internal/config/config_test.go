package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := NewConfig("/tmp/filegate")
	cfg.Bot.Token = "123:abc"
	cfg.Bot.Owner = 900
	cfg.Storage.ChannelID = -100123
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		if err := validConfig().Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing token", func(c *Config) { c.Bot.Token = "" }, "bot.token"},
		{"missing owner", func(c *Config) { c.Bot.Owner = 0 }, "bot.owner"},
		{"missing storage channel", func(c *Config) { c.Storage.ChannelID = 0 }, "storage.channel_id"},
		{"negative auto-delete", func(c *Config) { c.Storage.AutoDeleteSeconds = -1 }, "auto_delete_seconds"},
		{"unknown database type", func(c *Config) { c.Database.Type = "postgres" }, "unknown database type"},
		{"sqlite without data dir", func(c *Config) { c.Database.DataDir = "" }, "data_dir"},
		{"channel without id", func(c *Config) { c.Channels = []ChannelRequirement{{Name: "x"}} }, "channels[0].id"},
		{"shortener host without key", func(c *Config) { c.Shortener.Host = "short.example" }, "shortener.api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}

	t.Run("memory type needs no data dir", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database = DatabaseConfig{Type: "memory"}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("web token ttl defaults", func(t *testing.T) {
		cfg := validConfig()
		cfg.Web.TokenTTLMinutes = 0
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if cfg.Web.TokenTTLMinutes != 5 {
			t.Errorf("TokenTTLMinutes = %d, want default 5", cfg.Web.TokenTTLMinutes)
		}
	})
}

func TestAdminIDs(t *testing.T) {
	t.Run("owner always included", func(t *testing.T) {
		cfg := validConfig()
		cfg.Bot.Admins = []int64{1, 2}

		ids := cfg.AdminIDs()
		if len(ids) != 3 || ids[0] != 900 {
			t.Errorf("AdminIDs() = %v", ids)
		}
	})

	t.Run("owner not duplicated", func(t *testing.T) {
		cfg := validConfig()
		cfg.Bot.Admins = []int64{1, 900}

		ids := cfg.AdminIDs()
		if len(ids) != 2 {
			t.Errorf("AdminIDs() = %v, want no duplicate owner", ids)
		}
	})
}

func TestDurationHelpers(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.AutoDeleteSeconds = 90
	cfg.Verification.TTLSeconds = 600

	if cfg.AutoDelete() != 90*time.Second {
		t.Errorf("AutoDelete() = %s", cfg.AutoDelete())
	}
	if cfg.VerifyTTL() != 600*time.Second {
		t.Errorf("VerifyTTL() = %s", cfg.VerifyTTL())
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.Channels = []ChannelRequirement{
		{ID: -100111, Name: "Alpha", RequestMode: true, LinkTTLMinutes: 10},
	}

	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, cfg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	loaded, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if loaded.Bot.Token != cfg.Bot.Token || loaded.Storage.ChannelID != cfg.Storage.ChannelID {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.Channels) != 1 || loaded.Channels[0].ID != -100111 || !loaded.Channels[0].RequestMode {
		t.Errorf("channels = %+v", loaded.Channels)
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "filegate.toml")
	cfg := validConfig()

	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	loaded, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if loaded.Bot.Owner != 900 {
		t.Errorf("loaded owner = %d", loaded.Bot.Owner)
	}

	if err := Init(path, cfg); err == nil {
		t.Error("Init() on an existing file did not fail")
	}
}
