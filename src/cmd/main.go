package main

import (
	"github.com/sirupsen/logrus"

	"github.com/dungpv04/be-android/src/internal/config"
	"github.com/dungpv04/be-android/src/internal/logger"
	"github.com/dungpv04/be-android/src/internal/server"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg)

	logrus.WithFields(logrus.Fields{
		"app":     cfg.App.Name,
		"version": cfg.App.Version,
	}).Info("Starting service")

	srv, err := server.New(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize server")
	}

	if err := srv.Start(); err != nil {
		logrus.WithError(err).Fatal("Server exited with error")
	}
}
