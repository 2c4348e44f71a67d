package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "taskboard.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Server.BasePath != "/v1" {
		t.Fatalf("defaults not applied: %+v", cfg.Server)
	}
	if cfg.Auth.TokenTTLHours != 24 {
		t.Fatalf("token ttl default = %d", cfg.Auth.TokenTTLHours)
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
server:
  addr: ":9000"
auth:
  jwt_secret: sekrit
webhooks:
  - url: https://hooks.example.com/tb
    events: [task.created, task.trashed]
    timeout_seconds: 10
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	// unset fields keep their defaults
	if cfg.Server.BasePath != "/v1" || cfg.Auth.TokenTTLHours != 24 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Auth.JWTSecret != "sekrit" {
		t.Fatalf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].TimeoutSeconds != 10 {
		t.Fatalf("webhooks: %+v", cfg.Webhooks)
	}
}

func TestValidate(t *testing.T) {
	if _, err := FromYAML([]byte("auth:\n  token_ttl_hours: -1\n")); err == nil {
		t.Fatal("expected negative ttl to fail")
	}
	if _, err := FromYAML([]byte("webhooks:\n  - secret: x\n")); err == nil {
		t.Fatal("expected webhook without url to fail")
	}
	if _, err := FromYAML([]byte("server: [not-a-map]\n")); err == nil {
		t.Fatal("expected malformed yaml to fail")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskboard.yml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":7000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}
