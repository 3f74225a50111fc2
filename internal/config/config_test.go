package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != "127.0.0.1:7483" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.IdleTimeoutSeconds != 300 || cfg.SkipFenceWindowSeconds != 8 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.StateDir != dir {
		t.Errorf("state dir = %q, want %q", cfg.StateDir, dir)
	}
}

func TestLoadOverridesAndKeepsRest(t *testing.T) {
	dir := t.TempDir()
	content := "listen_addr = \"127.0.0.1:9999\"\nidle_timeout_seconds = 60\n\n[review]\nsteer_delay_seconds = 2.5\n"
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" || cfg.IdleTimeoutSeconds != 60 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Review.SteerDelaySeconds != 2.5 {
		t.Errorf("review steer delay = %v", cfg.Review.SteerDelaySeconds)
	}
	if cfg.RemindSoftSeconds != 210 {
		t.Errorf("untouched default changed: %d", cfg.RemindSoftSeconds)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("listen_addr = [broken"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(dir)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestValidateRejectsExplicitZero(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("idle_timeout_seconds = 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(dir)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestValidateHardMustExceedSoft(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.RemindHardSeconds = cfg.RemindSoftSeconds
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}
