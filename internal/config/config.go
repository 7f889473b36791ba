package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config holds daemon settings, loaded from <data-dir>/wadeskd.toml and
// overridable through WADESK_* environment variables.
type Config struct {
	ListenAddr string `toml:"listen_addr" env:"WADESK_LISTEN_ADDR"`
	DataDir    string `toml:"data_dir" env:"WADESK_DATA_DIR"`
	LogLevel   string `toml:"log_level" env:"WADESK_LOG_LEVEL"`

	// QRTimeoutSecs bounds the QR handshake validity window.
	QRTimeoutSecs int `toml:"qr_timeout_secs" env:"WADESK_QR_TIMEOUT_SECS"`
	// StopGraceSecs bounds how long a stop command waits for the adapter.
	StopGraceSecs int `toml:"stop_grace_secs" env:"WADESK_STOP_GRACE_SECS"`

	SendAttempts     int `toml:"send_attempts" env:"WADESK_SEND_ATTEMPTS"`
	SendBackoffSecs  int `toml:"send_backoff_secs" env:"WADESK_SEND_BACKOFF_SECS"`
	IngestAttempts   int `toml:"ingest_attempts" env:"WADESK_INGEST_ATTEMPTS"`
	IngestBackoffMs  int `toml:"ingest_backoff_ms" env:"WADESK_INGEST_BACKOFF_MS"`
	OutboxPollMillis int `toml:"outbox_poll_ms" env:"WADESK_OUTBOX_POLL_MS"`
}

// Default returns the baseline configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ListenAddr:       "127.0.0.1:8473",
		DataDir:          filepath.Join(home, ".wadesk"),
		LogLevel:         "info",
		QRTimeoutSecs:    60,
		StopGraceSecs:    5,
		SendAttempts:     3,
		SendBackoffSecs:  2,
		IngestAttempts:   3,
		IngestBackoffMs:  200,
		OutboxPollMillis: 500,
	}
}

// Load reads the config file at path when it exists, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.QRTimeoutSecs <= 0 {
		return fmt.Errorf("qr_timeout_secs must be positive, got %d", c.QRTimeoutSecs)
	}
	if c.SendAttempts <= 0 {
		return fmt.Errorf("send_attempts must be positive, got %d", c.SendAttempts)
	}
	return nil
}

// QRTimeout returns the QR handshake validity window.
func (c *Config) QRTimeout() time.Duration {
	return time.Duration(c.QRTimeoutSecs) * time.Second
}

// StopGrace returns the cooperative-cancellation grace period.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSecs) * time.Second
}

// SendBackoff returns the delay between outbound send attempts.
func (c *Config) SendBackoff() time.Duration {
	return time.Duration(c.SendBackoffSecs) * time.Second
}

// IngestBackoff returns the delay between ingest persistence retries.
func (c *Config) IngestBackoff() time.Duration {
	return time.Duration(c.IngestBackoffMs) * time.Millisecond
}

// OutboxPoll returns the outbox drain interval.
func (c *Config) OutboxPoll() time.Duration {
	return time.Duration(c.OutboxPollMillis) * time.Millisecond
}

// DBPath returns the app-owned sqlite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "wadesk.db")
}

// SessionDir returns the per-session credential directory.
func (c *Config) SessionDir(sessionID string) string {
	return filepath.Join(c.DataDir, "sessions", sessionID)
}

// SessionCredPath returns the whatsmeow credential store path for a session.
func (c *Config) SessionCredPath(sessionID string) string {
	return filepath.Join(c.SessionDir(sessionID), "session.db")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "wadeskd.log")
}

// Path returns the default config file location under dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, "wadeskd.toml")
}
