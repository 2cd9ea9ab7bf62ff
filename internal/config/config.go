package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatd/config.toml.
type Config struct {
	DefaultProfile string     `toml:"default_profile"`
	Chat           ChatConfig `toml:"chat"`
	Log            LogConfig  `toml:"log"`
}

// ChatConfig tunes the chat services.
type ChatConfig struct {
	PageSize       int      `toml:"page_size"`
	SearchLimit    int      `toml:"search_limit"`
	PreviewLength  int      `toml:"preview_length"`
	TypingTimeout  Duration `toml:"typing_timeout"`
	AnnounceJoins  bool     `toml:"announce_joins"`
	BroadcastTitle string   `toml:"broadcast_title"`
}

// LogConfig controls daemon logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string ("3s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Chat: ChatConfig{
			PageSize:       50,
			SearchLimit:    20,
			PreviewLength:  100,
			TypingTimeout:  Duration{3 * time.Second},
			AnnounceJoins:  true,
			BroadcastTitle: "General",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
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
