package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFrom_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("FORECASTER_API_BASE_URL", "")
	t.Setenv("FORECASTER_DATA_DIR", "")

	cfg, info, err := LoadConfigFrom(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if info.Found || info.PortSpecified {
		t.Fatalf("info = %+v", info)
	}
	if cfg.Forecast.DefaultHorizon != 12 || cfg.Forecast.MaxHorizon != 52 {
		t.Fatalf("forecast defaults = %+v", cfg.Forecast)
	}
	if cfg.Upload.MaxSizeBytes != 100<<20 || len(cfg.Upload.AllowedExtensions) != 3 {
		t.Fatalf("upload defaults = %+v", cfg.Upload)
	}
	if cfg.Backend.BaseURL != "http://localhost:8001/api/v1" {
		t.Fatalf("base url = %s", cfg.Backend.BaseURL)
	}
}

func TestLoadConfigFrom_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
port = 9000
dev_mode = true

[backend]
base_url = "http://forecast.internal/api/v1"
poll_interval_ms = 250

[forecast]
default_horizon = 8
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FORECASTER_API_BASE_URL", "")
	t.Setenv("FORECASTER_DATA_DIR", "/var/lib/forecaster")

	cfg, info, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !info.Found || !info.PortSpecified {
		t.Fatalf("info = %+v", info)
	}
	if cfg.Server.Port != 9000 || !cfg.Server.DevMode {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Backend.BaseURL != "http://forecast.internal/api/v1" || cfg.Backend.PollInterval().Milliseconds() != 250 {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	// 未出现的键保持默认值
	if cfg.Backend.MaxRetries != 3 || cfg.Forecast.MaxHorizon != 52 {
		t.Fatalf("defaults lost: %+v %+v", cfg.Backend, cfg.Forecast)
	}
	if cfg.Forecast.DefaultHorizon != 8 {
		t.Fatalf("default horizon = %d", cfg.Forecast.DefaultHorizon)
	}
	if cfg.Data.DataDir != "/var/lib/forecaster" {
		t.Fatalf("data dir = %s", cfg.Data.DataDir)
	}
	if got := ResolveDataDir(cfg); got != "/var/lib/forecaster" {
		t.Fatalf("resolved data dir = %s", got)
	}

	t.Setenv("FORECASTER_API_BASE_URL", "http://env/api/v1")
	cfg, _, err = LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Backend.BaseURL != "http://env/api/v1" {
		t.Fatalf("env override ignored: %s", cfg.Backend.BaseURL)
	}
}

func TestLoadConfigFrom_Invalid(t *testing.T) {
	t.Setenv("FORECASTER_API_BASE_URL", "")
	t.Setenv("FORECASTER_DATA_DIR", "")

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[forecast]\ndefault_horizon = 80\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := LoadConfigFrom(path); err == nil {
		t.Fatal("expected error for horizon above max")
	}

	if err := os.WriteFile(path, []byte("[server\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := LoadConfigFrom(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnsureDataDir(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Data.DataDir = filepath.Join(t.TempDir(), "data")

	dir, err := EnsureDataDir(cfg)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if st, err := os.Stat(filepath.Join(dir, "uploads")); err != nil || !st.IsDir() {
		t.Fatalf("uploads dir missing: %v", err)
	}
}
