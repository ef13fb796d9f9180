package app

import (
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("FILEGATE_CONFIG_PATH", "/etc/filegate/config.toml")
		t.Setenv("FILEGATE_HOME", "/var/lib/filegate")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		if defaults["config_path"] != "/etc/filegate/config.toml" {
			t.Errorf("config_path = %s", defaults["config_path"])
		}
		if defaults["base_dir"] != "/var/lib/filegate" {
			t.Errorf("base_dir = %s", defaults["base_dir"])
		}
		if defaults["log_dir"] != filepath.Join("/var/lib/filegate", "log") {
			t.Errorf("log_dir = %s", defaults["log_dir"])
		}
	})

	t.Run("home-relative fallbacks", func(t *testing.T) {
		t.Setenv("FILEGATE_CONFIG_PATH", "")
		t.Setenv("FILEGATE_HOME", "")
		t.Setenv("HOME", "/home/tester")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		if defaults["config_path"] != "/home/tester/.config/filegate.toml" {
			t.Errorf("config_path = %s", defaults["config_path"])
		}
		if defaults["base_dir"] != "/home/tester/.local/share/filegate" {
			t.Errorf("base_dir = %s", defaults["base_dir"])
		}
	})
}
