// Package config loads and validates coordinator configuration.
//
// Configuration lives in a single TOML file under the state directory.
// Missing file means defaults; an invalid value refuses startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrInvalid indicates the configuration file was present but unusable.
// The coordinator refuses to start in this case.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every recognized coordinator option.
type Config struct {
	// ListenAddr is the coordinator's RPC bind address.
	ListenAddr string `toml:"listen_addr"`

	// StateDir holds the snapshot file, lock files, logs, and audit store.
	StateDir string `toml:"state_dir"`

	// DefaultForumChat is the forum chat id used for auto-created threads
	// when a session is spawned without an explicit chat id. Zero disables
	// auto-creation.
	DefaultForumChat int64 `toml:"default_forum_chat"`

	// ForumToken authenticates against the forum backend. Empty means the
	// notifier runs in log-only mode.
	ForumToken string `toml:"forum_token"`

	IdleTimeoutSeconds     int `toml:"idle_timeout_seconds"`
	WatchPollSeconds       int `toml:"watch_poll_interval_seconds"`
	SkipFenceWindowSeconds int `toml:"skip_fence_window_seconds"`
	InputPollSeconds       int `toml:"input_poll_interval_seconds"`
	InputStaleSeconds      int `toml:"input_stale_timeout_seconds"`
	RemindSoftSeconds      int `toml:"remind_soft_seconds"`
	RemindHardSeconds      int `toml:"remind_hard_seconds"`
	MonitorPollSeconds     int `toml:"monitor_poll_interval_seconds"`

	Review ReviewConfig `toml:"review"`
}

// ReviewConfig holds keystroke pacing for the review orchestrator.
type ReviewConfig struct {
	MenuSettleSeconds   float64 `toml:"menu_settle_seconds"`
	BranchSettleSeconds float64 `toml:"branch_settle_seconds"`
	SteerDelaySeconds   float64 `toml:"steer_delay_seconds"`
}

// Default returns a Config populated with documented defaults.
// stateDir may be empty, in which case ~/.switchboard is used.
func Default(stateDir string) *Config {
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		stateDir = filepath.Join(home, ".switchboard")
	}
	return &Config{
		ListenAddr:             "127.0.0.1:7483",
		StateDir:               stateDir,
		IdleTimeoutSeconds:     300,
		WatchPollSeconds:       2,
		SkipFenceWindowSeconds: 8,
		InputPollSeconds:       5,
		InputStaleSeconds:      120,
		RemindSoftSeconds:      210,
		RemindHardSeconds:      420,
		MonitorPollSeconds:     1,
		Review: ReviewConfig{
			MenuSettleSeconds:   1.0,
			BranchSettleSeconds: 1.0,
			SteerDelaySeconds:   5.0,
		},
	}
}

// Path returns the config file location inside a state directory.
func Path(stateDir string) string {
	return filepath.Join(stateDir, "config.toml")
}

// Load reads config.toml from stateDir, applying defaults for absent keys.
// A missing file is not an error. A malformed file or invalid value is.
func Load(stateDir string) (*Config, error) {
	cfg := Default(stateDir)

	data, err := os.ReadFile(Path(cfg.StateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config.toml: %v", ErrInvalid, err)
	}
	// The file may override state_dir; keep derived paths consistent.
	if cfg.StateDir == "" {
		cfg.StateDir = stateDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option ranges. Zero values that slipped past defaults
// (explicit `= 0` in the file) are rejected rather than silently patched.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"listen_addr", c.ListenAddr != ""},
		{"state_dir", c.StateDir != ""},
		{"idle_timeout_seconds", c.IdleTimeoutSeconds > 0},
		{"watch_poll_interval_seconds", c.WatchPollSeconds > 0},
		{"skip_fence_window_seconds", c.SkipFenceWindowSeconds > 0},
		{"input_poll_interval_seconds", c.InputPollSeconds > 0},
		{"input_stale_timeout_seconds", c.InputStaleSeconds > 0},
		{"remind_soft_seconds", c.RemindSoftSeconds > 0},
		{"remind_hard_seconds", c.RemindHardSeconds > c.RemindSoftSeconds},
		{"monitor_poll_interval_seconds", c.MonitorPollSeconds > 0},
		{"review.menu_settle_seconds", c.Review.MenuSettleSeconds >= 0},
		{"review.branch_settle_seconds", c.Review.BranchSettleSeconds >= 0},
		{"review.steer_delay_seconds", c.Review.SteerDelaySeconds >= 0},
	}
	for _, ch := range checks {
		if !ch.ok {
			return fmt.Errorf("%w: %s out of range", ErrInvalid, ch.name)
		}
	}
	return nil
}

// SnapshotPath returns the session snapshot file location.
func (c *Config) SnapshotPath() string { return filepath.Join(c.StateDir, "state.json") }

// SnapshotLockPath returns the advisory lock guarding snapshot writes.
func (c *Config) SnapshotLockPath() string { return filepath.Join(c.StateDir, "state.lock") }

// CoordinatorLockPath returns the single-instance lock file.
func (c *Config) CoordinatorLockPath() string { return filepath.Join(c.StateDir, "coordinator.lock") }

// LogPath returns the coordinator log file location.
func (c *Config) LogPath() string { return filepath.Join(c.StateDir, "coordinator.log") }

// AuditPath returns the tool-audit database location.
func (c *Config) AuditPath() string { return filepath.Join(c.StateDir, "audit.db") }
