package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watcher reloads reminder tuning when the config file changes on disk.
// Only the reminders section is applied live; storage and server settings
// require a restart.
type Watcher struct {
	v      *viper.Viper
	logger *zap.Logger

	mu        sync.RWMutex
	reminders RemindersConfig
	onChange  func(RemindersConfig)
}

// NewWatcher starts watching configPath. onChange is invoked from the
// fsnotify goroutine with the freshly parsed reminders section.
func NewWatcher(configPath string, initial RemindersConfig, logger *zap.Logger, onChange func(RemindersConfig)) (*Watcher, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	w := &Watcher{
		v:         v,
		logger:    logger,
		reminders: initial,
		onChange:  onChange,
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		w.reload(e)
	})
	v.WatchConfig()

	return w, nil
}

func (w *Watcher) reload(e fsnotify.Event) {
	var cfg Config
	if err := w.v.Unmarshal(&cfg); err != nil {
		w.logger.Warn("Ignoring config change, unmarshal failed",
			zap.String("file", e.Name),
			zap.Error(err),
		)
		return
	}
	if err := validate(&cfg); err != nil {
		w.logger.Warn("Ignoring config change, validation failed",
			zap.String("file", e.Name),
			zap.Error(err),
		)
		return
	}

	w.mu.Lock()
	w.reminders = cfg.Reminders
	w.mu.Unlock()

	w.logger.Info("Reminder settings reloaded",
		zap.Int("grace_minutes", cfg.Reminders.GraceMinutes),
		zap.Int("snooze_minutes", cfg.Reminders.SnoozeMinutes),
		zap.Int("max_snoozes", cfg.Reminders.MaxSnoozes),
	)

	if w.onChange != nil {
		w.onChange(cfg.Reminders)
	}
}

// Reminders returns the last good reminders section.
func (w *Watcher) Reminders() RemindersConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reminders
}
