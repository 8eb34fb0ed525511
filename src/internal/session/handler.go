package session

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/dungpv04/be-android/src/internal/cache"
	"github.com/dungpv04/be-android/src/internal/config"
	"github.com/dungpv04/be-android/src/internal/events"
	"github.com/dungpv04/be-android/src/internal/middleware"
	"github.com/dungpv04/be-android/src/internal/models"
	"github.com/dungpv04/be-android/src/internal/scheduler"
)

type Handler interface {
	Create(c *gin.Context)
	Get(c *gin.Context)
	ListOpen(c *gin.Context)
	Open(c *gin.Context)
	Close(c *gin.Context)
	IssueToken(c *gin.Context)
	QRImage(c *gin.Context)
	Reschedule(c *gin.Context)
}

type handler struct {
	config       *config.Configuration
	service      Service
	scheduler    scheduler.Service
	cacheService cache.Service
	publisher    events.Publisher
}

func NewHandler(cfg *config.Configuration, service Service, schedulerService scheduler.Service, cacheService cache.Service, publisher events.Publisher) Handler {
	return &handler{
		config:       cfg,
		service:      service,
		scheduler:    schedulerService,
		cacheService: cacheService,
		publisher:    publisher,
	}
}

// Create stores a new session and registers its closure job in the same
// request, so the obligation to close exists before the first student
// ever sees a QR code.
func (h *handler) Create(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	identity, _ := middleware.IdentityFrom(c)

	session, err := h.service.Create(ctx, &req, identity.UserID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	if _, err := h.scheduler.Schedule(ctx, session.ID.Hex(), session.PlannedEnd); err != nil {
		logrus.WithError(err).WithField("session_id", session.ID.Hex()).Error("Failed to schedule closure for new session")
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    session,
		"message": "Session created successfully",
	})
}

func (h *handler) Get(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessionID := c.Param("id")

	if cached, err := h.cacheService.GetSession(ctx, sessionID); err == nil && cached != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    cached,
			"message": "Session retrieved successfully (from cache)",
		})
		return
	}

	session, err := h.service.GetByID(ctx, sessionID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.cacheService.CacheSession(ctx, session)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    session,
		"message": "Session retrieved successfully",
	})
}

func (h *handler) ListOpen(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessions, err := h.service.ListOpen(ctx)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    sessions,
		"message": "Open sessions retrieved successfully",
	})
}

func (h *handler) Open(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessionID := c.Param("id")
	identity, _ := middleware.IdentityFrom(c)

	session, err := h.service.Open(ctx, sessionID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.cacheService.InvalidateSession(ctx, sessionID)

	if err := h.publisher.PublishSessionEvent(sessionID, models.ActionSessionOpened, identity.UserID); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Warn("Failed to publish session opened event")
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    session,
		"message": "Session opened successfully",
	})
}

// Close is idempotent: closing an already-closed session reports
// closed=false with a 200, never an error.
func (h *handler) Close(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessionID := c.Param("id")
	identity, _ := middleware.IdentityFrom(c)

	closed, err := h.service.Close(ctx, sessionID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.cacheService.InvalidateSession(ctx, sessionID)

	if closed {
		if err := h.publisher.PublishSessionEvent(sessionID, models.ActionSessionClosed, identity.UserID); err != nil {
			logrus.WithError(err).WithField("session_id", sessionID).Warn("Failed to publish session closed event")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"closed": closed},
		"message": "Session close processed",
	})
}

type issueTokenRequest struct {
	ExpiryMinutes int `json:"expiryMinutes"`
}

func (h *handler) IssueToken(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessionID := c.Param("id")

	// An empty or missing body is fine: the service falls back to the
	// default TTL and clamps whatever the caller asked for.
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req.ExpiryMinutes = 0
	}

	token, err := h.service.IssueToken(ctx, sessionID, time.Duration(req.ExpiryMinutes)*time.Minute)
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.cacheService.InvalidateSession(ctx, sessionID)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    token,
		"message": "QR code generated successfully",
	})
}

// QRImage renders the session's current token as a PNG, sized by the
// query parameter.
func (h *handler) QRImage(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessionID := c.Param("id")

	size, err := strconv.Atoi(c.DefaultQuery("size", "200"))
	if err != nil || size < 100 || size > 500 {
		size = 200
	}

	token, err := h.service.CurrentToken(ctx, sessionID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	png, err := qrcode.Encode(token.Value, qrcode.Medium, size)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to encode QR image")
		h.sendErrorResponse(c, http.StatusInternalServerError, "Failed to render QR code", err.Error())
		return
	}

	c.Header("Content-Disposition", "inline; filename=session_"+sessionID+"_qr.png")
	c.Data(http.StatusOK, "image/png", png)
}

type rescheduleRequest struct {
	PlannedStart time.Time `json:"plannedStart" binding:"required"`
	PlannedEnd   time.Time `json:"plannedEnd" binding:"required"`
}

// Reschedule edits the planned window and replaces the closure job. The
// old job is cancelled before the new one is registered so exactly one
// pending obligation remains.
func (h *handler) Reschedule(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessionID := c.Param("id")

	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	session, err := h.service.Reschedule(ctx, sessionID, req.PlannedStart, req.PlannedEnd)
	if err != nil {
		h.handleError(c, err)
		return
	}

	if err := h.scheduler.Cancel(ctx, sessionID); err != nil && !errors.Is(err, models.ErrJobNotFound) {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to cancel closure job during reschedule")
	}
	if _, err := h.scheduler.Schedule(ctx, sessionID, session.PlannedEnd); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to schedule closure after reschedule")
	}

	h.cacheService.InvalidateSession(ctx, sessionID)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    session,
		"message": "Session rescheduled successfully",
	})
}

func (h *handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), time.Duration(h.config.App.Timeout)*time.Second)
}

func (h *handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		h.sendErrorResponse(c, http.StatusNotFound, "Session not found", "No session found with the provided ID")
	case errors.Is(err, models.ErrInvalidTransition):
		h.sendErrorResponse(c, http.StatusConflict, "Invalid session state", "The session is not in a state that allows this operation")
	case errors.Is(err, models.ErrNoActiveToken):
		h.sendErrorResponse(c, http.StatusNotFound, "No active token", "The session has no live attendance token")
	case errors.Is(err, models.ErrInvalidParams):
		h.sendErrorResponse(c, http.StatusBadRequest, "Invalid parameters", "The planned window is invalid")
	default:
		logrus.WithError(err).Error("Session operation failed")
		h.sendErrorResponse(c, http.StatusInternalServerError, "Session operation failed", err.Error())
	}
}

func (h *handler) sendErrorResponse(c *gin.Context, statusCode int, error, message string) {
	c.JSON(statusCode, gin.H{
		"error":   error,
		"success": false,
		"message": message,
	})
}
