// Package config loads server configuration from a YAML file with
// sensible defaults and environment overrides.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Terminal TerminalConfig `yaml:"terminal"`
	Storage  StorageConfig  `yaml:"storage"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AuthConfig struct {
	// Token is the shared bearer secret. The AUTH_TOKEN environment
	// variable takes precedence over the file.
	Token string `yaml:"token"`
}

type WatcherConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	TranscriptDir string        `yaml:"transcript_dir"`
}

type TerminalConfig struct {
	DefaultShell string        `yaml:"default_shell"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
	LogDir string `yaml:"log_dir"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Watcher: WatcherConfig{
			PollInterval:  time.Second,
			TranscriptDir: "data/transcripts",
		},
		Terminal: TerminalConfig{
			DefaultShell: defaultShell(),
			IdleTimeout:  30 * time.Minute,
		},
		Storage: StorageConfig{
			DBPath: "data/sessions.db",
			LogDir: "data/logs",
		},
	}
}

// Load reads the config file at path, applying defaults for anything
// unset. A missing file is not an error; defaults plus environment
// overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if token := os.Getenv("AUTH_TOKEN"); token != "" {
		cfg.Auth.Token = token
	}
	if dir := os.Getenv("TRANSCRIPT_DIR"); dir != "" {
		cfg.Watcher.TranscriptDir = dir
	}

	return cfg, nil
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}
