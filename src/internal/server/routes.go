package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/dungpv04/be-android/src/clients"
	"github.com/dungpv04/be-android/src/internal/dependency"
	"github.com/dungpv04/be-android/src/internal/middleware"
)

func SetupRoutes(deps *dependency.Manager) {
	router := deps.Router
	router.Use(enableCORS)

	setupHealthEndpoint(deps)
	setupAPIRoutes(router, deps)
}

func setupHealthEndpoint(deps *dependency.Manager) {
	router := deps.Router
	mongodb := deps.Mongodb
	redisClient := deps.Redis
	cfg := deps.Config

	router.GET("/health", func(c *gin.Context) {
		mongoStatus := "ok"
		if err := mongodb.Client.Ping(c.Request.Context(), nil); err != nil {
			mongoStatus = "error: " + err.Error()
		}

		redisStatus := "ok"
		if err := redisClient.Client.Ping(c.Request.Context()).Err(); err != nil {
			redisStatus = "error: " + err.Error()
		}

		c.JSON(200, gin.H{
			"status":             "ok",
			"service":            cfg.App.Name,
			"version":            cfg.App.Version,
			"mongodb":            mongoStatus,
			"redis":              redisStatus,
			"scheduler_failures": deps.SchedulerService.Failures(),
			"timestamp":          time.Now().UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	})

	router.GET("/health/detailed", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "operational",
			"service": cfg.App.Name,
			"version": cfg.App.Version,
			"components": gin.H{
				"database": gin.H{
					"mongodb": getStatus(isMongoConnected(mongodb, c)),
					"redis":   getStatus(isRedisConnected(redisClient.Client, c)),
				},
				"scheduler": gin.H{
					"failures": deps.SchedulerService.Failures(),
				},
			},
		})
	})
}

func setupAPIRoutes(router *gin.Engine, deps *dependency.Manager) {
	authMiddleware := middleware.NewAuthMiddleware(deps.Config.Security.JwtKey)

	sessions := deps.SessionHandler
	attendances := deps.AttendanceHandler

	api := router.Group("/api/v1")
	api.Use(authMiddleware.RequireAuth())
	{
		api.POST("/sessions",
			setRouteName("createSession"),
			authMiddleware.RequireRole(middleware.RoleTeacher),
			sessions.Create)

		api.GET("/sessions/open",
			setRouteName("listOpenSessions"),
			sessions.ListOpen)

		api.GET("/sessions/:id",
			setRouteName("getSession"),
			sessions.Get)

		api.PUT("/sessions/:id/schedule",
			setRouteName("rescheduleSession"),
			authMiddleware.RequireRole(middleware.RoleTeacher),
			sessions.Reschedule)

		api.POST("/sessions/:id/open",
			setRouteName("openSession"),
			authMiddleware.RequireRole(middleware.RoleTeacher),
			sessions.Open)

		api.POST("/sessions/:id/close",
			setRouteName("closeSession"),
			authMiddleware.RequireRole(middleware.RoleTeacher),
			sessions.Close)

		api.POST("/sessions/:id/qr-code",
			setRouteName("issueAttendanceToken"),
			authMiddleware.RequireRole(middleware.RoleTeacher),
			sessions.IssueToken)

		api.GET("/sessions/:id/qr-code",
			setRouteName("getSessionQRImage"),
			authMiddleware.RequireRole(middleware.RoleTeacher),
			sessions.QRImage)

		api.POST("/sessions/:id/attendance/qr",
			setRouteName("checkInByToken"),
			authMiddleware.RequireRole(middleware.RoleStudent),
			attendances.CheckInByToken)

		api.POST("/sessions/:id/attendance/manual",
			setRouteName("checkInManual"),
			authMiddleware.RequireRole(middleware.RoleTeacher),
			attendances.CheckInManual)

		api.PUT("/sessions/:id/attendance/:studentId",
			setRouteName("correctAttendance"),
			authMiddleware.RequireRole(middleware.RoleTeacher),
			attendances.Correct)

		api.GET("/sessions/:id/attendances",
			setRouteName("listSessionAttendances"),
			authMiddleware.RequireRole(middleware.RoleTeacher),
			attendances.ListBySession)

		api.GET("/students/:id/attendances",
			setRouteName("listStudentAttendances"),
			attendances.ListByStudent)
	}
}

func setRouteName(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("route_name", name)
		c.Next()
	}
}

func isMongoConnected(mongodb *clients.MongoDB, c *gin.Context) bool {
	if err := mongodb.Client.Ping(c.Request.Context(), nil); err != nil {
		return false
	}
	return true
}

func isRedisConnected(redisClient *redis.Client, c *gin.Context) bool {
	if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
		return false
	}
	return true
}

func enableCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if c.Request.Method == "OPTIONS" {
		c.AbortWithStatus(204)
		return
	}

	c.Next()
}

func getStatus(b bool) string {
	if b {
		return "connected"
	}
	return "disconnected"
}
