package logger

import (
	"github.com/sirupsen/logrus"

	"github.com/dungpv04/be-android/src/internal/config"
)

// Init configures the standard logrus logger from application config.
func Init(cfg *config.Configuration) {
	level, err := logrus.ParseLevel(cfg.Logs.Level)
	if err != nil {
		level = logrus.InfoLevel
		logrus.WithField("level", cfg.Logs.Level).Warn("Unknown log level, falling back to info")
	}
	logrus.SetLevel(level)

	if cfg.Logs.EnableJSONOutput {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
