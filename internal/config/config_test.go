package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.EventFile.Priority) != 4 {
		t.Fatalf("default priority = %v, want 4 entries", cfg.EventFile.Priority)
	}
	if cfg.Remote.TokenTTL.Seconds() != 3600 {
		t.Errorf("default token_ttl = %v, want 3600s", cfg.Remote.TokenTTL)
	}
}

func TestLoad_FileValuesOverrideDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"gateway_url": "https://gw.example.test",
		"event_file": {"enabled": true, "path": "/tmp/events.json"},
		"remote": {"enabled": true, "port": 9443, "secret": "s3cr3t"},
		"remote_targets": {"peer1": {"url": "https://peer.example.test", "secret": "xyz"}}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GatewayURL != "https://gw.example.test" {
		t.Errorf("GatewayURL = %q", cfg.GatewayURL)
	}
	if !cfg.EventFile.Enabled || cfg.EventFile.Path != "/tmp/events.json" {
		t.Errorf("EventFile = %+v", cfg.EventFile)
	}
	if !cfg.Remote.Enabled || cfg.Remote.Port != 9443 || cfg.Remote.Secret != "s3cr3t" {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	peer, ok := cfg.RemoteTargets["peer1"]
	if !ok || peer.URL != "https://peer.example.test" || peer.Secret != "xyz" {
		t.Errorf("RemoteTargets[peer1] = %+v, ok=%v", peer, ok)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"gateway_url": "https://from-file.test"}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("AXD_GATEWAY_URL", "https://from-env.test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GatewayURL != "https://from-env.test" {
		t.Errorf("GatewayURL = %q, want env override", cfg.GatewayURL)
	}
}
