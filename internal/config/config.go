package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	ModelsDir    string      `yaml:"models_dir"`
	ModelBaseURL string      `yaml:"model_base_url"`
	Language     string      `yaml:"language"`
	Device       string      `yaml:"device"` // "auto", "cpu", "cuda" or "metal"
	FFmpegPath   string      `yaml:"ffmpeg_path"`
	UploadsDir   string      `yaml:"uploads_dir"`
	QueueSize    int         `yaml:"queue_size"`
	HTTP         HTTPConfig  `yaml:"http"`
	Inbox        InboxConfig `yaml:"inbox"`
	LogLevel     string      `yaml:"log_level"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// InboxConfig holds settings for the watched recordings directory.
// An empty Dir disables the watcher.
type InboxConfig struct {
	Dir      string `yaml:"dir"`
	Language string `yaml:"language"`
}

// DefaultModelBaseURL is where the whisper.cpp ggml weights are published.
const DefaultModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "meetscribe")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		ModelsDir:    filepath.Join("data", "models"),
		ModelBaseURL: DefaultModelBaseURL,
		Language:     "pt",
		Device:       "auto",
		FFmpegPath:   "ffmpeg",
		UploadsDir:   filepath.Join("data", "uploads"),
		QueueSize:    100,
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Inbox: InboxConfig{
			Language: "pt",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in directory settings is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ModelsDir = expandTilde(cfg.ModelsDir)
	cfg.UploadsDir = expandTilde(cfg.UploadsDir)
	cfg.Inbox.Dir = expandTilde(cfg.Inbox.Dir)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.ModelsDir == "" {
		return fmt.Errorf("models_dir must not be empty")
	}

	if c.ModelBaseURL == "" {
		return fmt.Errorf("model_base_url must not be empty")
	}

	if c.Language == "" {
		return fmt.Errorf("language must not be empty")
	}

	switch c.Device {
	case "auto", "cpu", "cuda", "metal":
	default:
		return fmt.Errorf("device must be auto, cpu, cuda, or metal, got %q", c.Device)
	}

	if c.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path must not be empty")
	}

	if c.UploadsDir == "" {
		return fmt.Errorf("uploads_dir must not be empty")
	}

	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be > 0")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// InboxLanguage returns the language used for recordings picked up by the
// inbox watcher, falling back to the global language.
func (c *Config) InboxLanguage() string {
	if c.Inbox.Language != "" {
		return c.Inbox.Language
	}
	return c.Language
}

// ParseLogLevel maps a log_level string to a slog.Level. Unknown values map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# meetscribe configuration
# WHISPER_MODEL in the environment overrides the active model stored in models_dir.
`

// WriteDefault writes the default config to DefaultConfigPath. If a file already
// exists there it is left untouched and an empty path is returned.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
