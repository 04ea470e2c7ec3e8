package daemon

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Catalog.Endpoint != "https://civitai.com/api/v1" {
		t.Errorf("Endpoint = %q", cfg.Catalog.Endpoint)
	}
	if cfg.Sync.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Sync.Workers)
	}
	if cfg.Catalog.Timeout() != 15*time.Second {
		t.Errorf("Timeout() = %s", cfg.Catalog.Timeout())
	}
	if cfg.Catalog.MinInterval() != 250*time.Millisecond {
		t.Errorf("MinInterval() = %s", cfg.Catalog.MinInterval())
	}
}

func TestLoadConfig_NoFileUsesDefaults(t *testing.T) {
	t.Setenv("CIVISYNC_HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("Port = %d, want default", cfg.API.Port)
	}
}

func TestSaveLoadConfig_RoundTrip(t *testing.T) {
	t.Setenv("CIVISYNC_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Models.LoraDir = "/srv/models/loras"
	cfg.Catalog.Token = "secret-token"
	cfg.Sync.Workers = 8

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if loaded.Models.LoraDir != cfg.Models.LoraDir {
		t.Errorf("LoraDir = %q", loaded.Models.LoraDir)
	}
	if loaded.Catalog.Token != "secret-token" {
		t.Errorf("Token = %q", loaded.Catalog.Token)
	}
	if loaded.Sync.Workers != 8 {
		t.Errorf("Workers = %d", loaded.Sync.Workers)
	}
}

func TestModelsConfig_Dirs(t *testing.T) {
	m := ModelsConfig{CheckpointDir: "/a", LoraDir: "/b"}
	dirs := m.Dirs()
	if dirs["checkpoint"] != "/a" || dirs["lora"] != "/b" || dirs["embedding"] != "" {
		t.Errorf("Dirs() = %v", dirs)
	}
}
