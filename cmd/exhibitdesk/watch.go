package main

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/HerbHall/exhibitdesk/internal/config"
)

// watchLogLevel re-reads log.level whenever the config file changes. Other
// keys still require a restart. It does nothing without a config file.
func watchLogLevel(cfg *config.Config, level zap.AtomicLevel, logger *zap.Logger) bool {
	v := cfg.Viper()
	if v.ConfigFileUsed() == "" {
		return false
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := parseLevel(v.GetString("log.level"))
		if err != nil {
			logger.Warn("ignoring config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if next != level.Level() {
			logger.Info("log level changed", zap.Stringer("from", level.Level()), zap.Stringer("to", next))
			level.SetLevel(next)
		}
	})
	v.WatchConfig()
	return true
}
