package dependency

import (
	"github.com/gin-gonic/gin"

	"github.com/dungpv04/be-android/src/clients"
	"github.com/dungpv04/be-android/src/internal/attendance"
	"github.com/dungpv04/be-android/src/internal/cache"
	"github.com/dungpv04/be-android/src/internal/clock"
	"github.com/dungpv04/be-android/src/internal/config"
	"github.com/dungpv04/be-android/src/internal/events"
	"github.com/dungpv04/be-android/src/internal/scheduler"
	"github.com/dungpv04/be-android/src/internal/session"
)

type Manager struct {
	Router            *gin.Engine
	Config            *config.Configuration
	Mongodb           *clients.MongoDB
	Redis             *clients.RedisClient
	RabbitMQ          *clients.RabbitMQ
	CacheService      cache.Service
	Publisher         events.Publisher
	SessionService    session.Service
	SessionHandler    session.Handler
	AttendanceRepo    attendance.Repository
	AttendanceService attendance.Service
	AttendanceHandler attendance.Handler
	SchedulerService  scheduler.Service
}

func NewDependencyManager(router *gin.Engine,
	mongodb *clients.MongoDB,
	redisClient *clients.RedisClient,
	rabbitMQ *clients.RabbitMQ,
	cfg *config.Configuration) *Manager {
	clk := clock.New()

	cacheService := cache.NewCacheService(redisClient.Client, cfg)
	publisher := events.NewPublisher(rabbitMQ.Channel, cfg)

	sessionRepo := session.NewRepository(mongodb, cfg.Database.SessionCollection)
	sessionService := session.NewService(sessionRepo, cfg, clk)

	schedulerRepo := scheduler.NewRepository(mongodb, cfg.Database.ClosureJobCollection)
	schedulerService := scheduler.NewService(schedulerRepo, sessionService, publisher, cfg, clk)

	attendanceRepo := attendance.NewRepository(mongodb, cfg.Database.AttendanceCollection)
	attendanceService := attendance.NewService(attendanceRepo, sessionService, cfg, clk)

	sessionHandler := session.NewHandler(cfg, sessionService, schedulerService, cacheService, publisher)
	attendanceHandler := attendance.NewHandler(cfg, attendanceService, cacheService, publisher)

	return &Manager{
		Router:            router,
		Config:            cfg,
		Mongodb:           mongodb,
		Redis:             redisClient,
		RabbitMQ:          rabbitMQ,
		CacheService:      cacheService,
		Publisher:         publisher,
		SessionService:    sessionService,
		SessionHandler:    sessionHandler,
		AttendanceRepo:    attendanceRepo,
		AttendanceService: attendanceService,
		AttendanceHandler: attendanceHandler,
		SchedulerService:  schedulerService,
	}
}
