package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitalguard.yaml")
	content := `
log_level: debug
signal:
  fall_threshold_g: 3.0
emergency:
  country_code: DE
  countdown_seconds: 5
alerts:
  cooldown: 5m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Signal.FallThresholdG != 3.0 {
		t.Fatalf("fall_threshold_g = %v, want 3.0", cfg.Signal.FallThresholdG)
	}
	if cfg.Emergency.CountryCode != "DE" || cfg.Emergency.CountdownSeconds != 5 {
		t.Fatalf("emergency = %+v", cfg.Emergency)
	}
	if cfg.Alerts.Cooldown != 5*time.Minute {
		t.Fatalf("cooldown = %v, want 5m", cfg.Alerts.Cooldown)
	}
	// Untouched sections keep their defaults.
	if cfg.Fusion.CloudWeight != 0.7 || cfg.Fusion.EdgeWeight != 0.3 {
		t.Fatalf("fusion weights = %v/%v, want 0.7/0.3", cfg.Fusion.CloudWeight, cfg.Fusion.EdgeWeight)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitalguard.json")
	if err := os.WriteFile(path, []byte(`{"log_level": "warn"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log_level = %q, want warn", cfg.LogLevel)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted band", func(c *Config) { c.Signal.BandLowHz = 50; c.Signal.BandHighHz = 10 }},
		{"zero weights", func(c *Config) { c.Fusion.CloudWeight = 0; c.Fusion.EdgeWeight = 0 }},
		{"entry threshold above one", func(c *Config) { c.Emergency.EntryThreshold = 1.5 }},
		{"mqtt without broker", func(c *Config) { c.Device.MQTT.Enabled = true }},
		{"outbox without brokers", func(c *Config) { c.Outbox.Enabled = true }},
		{"contact without phone", func(c *Config) {
			c.Emergency.Contacts = []ContactConfig{{Name: "kin", Priority: 1}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitalguard.yaml")
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	cfg.Emergency.CountryCode = "GB"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.LogLevel != "debug" || loaded.Emergency.CountryCode != "GB" {
		t.Fatalf("round trip lost fields: %+v", loaded.Emergency)
	}
}

func TestManagerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitalguard.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().LogLevel != "info" {
		t.Fatalf("log_level = %q, want info", m.Get().LogLevel)
	}

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	needs, err := m.NeedsReload()
	if err != nil {
		t.Fatalf("needs reload: %v", err)
	}
	if !needs {
		t.Fatal("expected reload to be needed after mtime change")
	}
	if _, err := m.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m.Get().LogLevel != "debug" {
		t.Fatalf("log_level after reload = %q, want debug", m.Get().LogLevel)
	}
}
