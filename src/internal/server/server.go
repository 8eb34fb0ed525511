package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dungpv04/be-android/src/clients"
	"github.com/dungpv04/be-android/src/internal/config"
	"github.com/dungpv04/be-android/src/internal/dependency"
)

var log = logrus.StandardLogger()

type Server struct {
	cfg  *config.Configuration
	deps *dependency.Manager
}

// New connects the infrastructure clients, wires the dependency graph
// and registers routes.
func New(cfg *config.Configuration) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())

	mongodb, err := clients.NewMongoDB(&cfg.Database)
	if err != nil {
		return nil, err
	}

	redisClient, err := clients.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, err
	}

	rabbitMQ, err := clients.NewRabbitMQ(&cfg.Queue)
	if err != nil {
		return nil, err
	}
	if err := rabbitMQ.SetupExchange(); err != nil {
		return nil, err
	}

	deps := dependency.NewDependencyManager(router, mongodb, redisClient, rabbitMQ, cfg)
	SetupRoutes(deps)

	return &Server{cfg: cfg, deps: deps}, nil
}

// Start enforces storage indexes, launches the closure scheduler and
// serves HTTP until SIGINT/SIGTERM, then shuts everything down in order.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	indexCtx, indexCancel := context.WithTimeout(ctx, time.Duration(s.cfg.Database.Timeout)*time.Second)
	if err := s.deps.AttendanceRepo.EnsureIndexes(indexCtx); err != nil {
		indexCancel()
		return err
	}
	indexCancel()

	if err := s.deps.SchedulerService.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         ":" + s.cfg.Server.Port,
		Handler:      s.deps.Router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on :%s", s.cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
		log.Info("Shutting down...")
	}

	s.deps.SchedulerService.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}

	s.deps.RabbitMQ.Close()
	s.deps.Redis.Close()
	s.deps.Mongodb.Close(shutdownCtx)

	log.Info("Shutdown complete")
	return nil
}
