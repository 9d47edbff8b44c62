package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for dosewatch
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Reminders RemindersConfig `mapstructure:"reminders"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
}

// RemindersConfig holds dose timing and state machine tuning
type RemindersConfig struct {
	GraceMinutes      int `mapstructure:"grace_minutes"`
	SnoozeMinutes     int `mapstructure:"snooze_minutes"`
	MaxSnoozes        int `mapstructure:"max_snoozes"`
	ScanSeconds       int `mapstructure:"scan_seconds"`
	TakenToleranceMin int `mapstructure:"taken_tolerance_minutes"`
	HistoryDays       int `mapstructure:"history_days"`
}

// GracePeriod returns the grace window as a duration.
func (r RemindersConfig) GracePeriod() time.Duration {
	return time.Duration(r.GraceMinutes) * time.Minute
}

// SnoozeInterval returns the default snooze deferral as a duration.
func (r RemindersConfig) SnoozeInterval() time.Duration {
	return time.Duration(r.SnoozeMinutes) * time.Minute
}

// ScanInterval returns the periodic recomputation interval.
func (r RemindersConfig) ScanInterval() time.Duration {
	return time.Duration(r.ScanSeconds) * time.Second
}

// ChannelsConfig holds caregiver notification channel settings
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig holds Telegram caregiver channel settings
type TelegramConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	BotToken string  `mapstructure:"bot_token"`
	ChatIDs  []int64 `mapstructure:"chat_ids"`
}

// DiscordConfig holds Discord caregiver channel settings
type DiscordConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Token      string   `mapstructure:"token"`
	ChannelIDs []string `mapstructure:"channel_ids"`
}

// SecurityConfig holds API security settings
type SecurityConfig struct {
	JWTSecret    string   `mapstructure:"jwt_secret"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "dosewatch.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "dosewatch.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (DOSEWATCH_SERVER_PORT, DOSEWATCH_SECURITY_JWT_SECRET, etc.)
	v.SetEnvPrefix("DOSEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	// Reminder defaults. The 15-minute grace window and 3-snooze cap are
	// product constants; they are configurable here for tests only.
	v.SetDefault("reminders.grace_minutes", 15)
	v.SetDefault("reminders.snooze_minutes", 15)
	v.SetDefault("reminders.max_snoozes", 3)
	v.SetDefault("reminders.scan_seconds", 60)
	v.SetDefault("reminders.taken_tolerance_minutes", 30)
	v.SetDefault("reminders.history_days", 30)

	// Security defaults
	v.SetDefault("security.allow_origins", []string{"*"})
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "dosewatch")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "dosewatch")
}

// loadEnvOverrides loads specific env vars that Viper doesn't handle well
func loadEnvOverrides(cfg *Config) {
	getEnv := func(key, fallback string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return fallback
	}

	cfg.Server.Address = getEnv("DOSEWATCH_SERVER_ADDRESS", cfg.Server.Address)
	if port := os.Getenv("DOSEWATCH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	cfg.Storage.DataDir = getEnv("DOSEWATCH_STORAGE_DATA_DIR", cfg.Storage.DataDir)

	cfg.Security.JWTSecret = getEnv("DOSEWATCH_SECURITY_JWT_SECRET", cfg.Security.JWTSecret)

	cfg.Channels.Telegram.BotToken = getEnv("DOSEWATCH_CHANNELS_TELEGRAM_BOT_TOKEN", cfg.Channels.Telegram.BotToken)
	cfg.Channels.Discord.Token = getEnv("DOSEWATCH_CHANNELS_DISCORD_TOKEN", cfg.Channels.Discord.Token)
}

func validate(cfg *Config) error {
	if cfg.Reminders.GraceMinutes <= 0 {
		return fmt.Errorf("reminders.grace_minutes must be positive")
	}
	if cfg.Reminders.MaxSnoozes < 0 {
		return fmt.Errorf("reminders.max_snoozes must not be negative")
	}
	if cfg.Reminders.ScanSeconds <= 0 {
		return fmt.Errorf("reminders.scan_seconds must be positive")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("channels.telegram.bot_token required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		return fmt.Errorf("channels.discord.token required when discord is enabled")
	}
	return nil
}
