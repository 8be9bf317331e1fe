package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines bot configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Poll     PollConfig     `yaml:"poll"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
	Debug  bool   `yaml:"debug"`
}

type PollConfig struct {
	Capacity   int      `yaml:"capacity"`
	Categories []string `yaml:"categories"`
	// Schedule is a 5-field cron spec evaluated in Timezone.
	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone"`
}

type StoreConfig struct {
	// Driver is one of "sqlite", "postgres" or "memory".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		Poll: PollConfig{
			Capacity:   4,
			Categories: []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"},
			Schedule:   "0 10 * * 0",
			Timezone:   "Europe/Bratislava",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "data/polls.db",
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("POLLBOT_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("POLL_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid POLL_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}
	if v := os.Getenv("BOT_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BOT_DEBUG: %w", err)
		}
		cfg.Telegram.Debug = b
	}

	if v := os.Getenv("POLL_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid POLL_CAPACITY: %w", err)
		}
		cfg.Poll.Capacity = n
	}
	if v := os.Getenv("POLL_CATEGORIES"); v != "" {
		cfg.Poll.Categories = splitList(v)
	}
	if v := os.Getenv("POLL_SCHEDULE"); v != "" {
		cfg.Poll.Schedule = v
	}
	if v := os.Getenv("POLL_TIMEZONE"); v != "" {
		cfg.Poll.Timezone = v
	}

	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DSN = v
	}

	if v := os.Getenv("KEEPALIVE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid KEEPALIVE_ENABLED: %w", err)
		}
		cfg.Server.Enabled = b
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks what the bot cannot start without. The token is checked
// separately by callers that need it.
func (c Config) Validate() error {
	var errs []error
	if c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id (POLL_CHAT_ID) is required"))
	}
	if c.Poll.Capacity < 1 {
		errs = append(errs, fmt.Errorf("poll.capacity must be positive, got %d", c.Poll.Capacity))
	}
	if len(c.Poll.Categories) == 0 {
		errs = append(errs, errors.New("poll.categories must not be empty"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn (DATABASE_URL) is required for postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Poll.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid poll.timezone %q: %w", c.Poll.Timezone, err)
	}
	return loc, nil
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
