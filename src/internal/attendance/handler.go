package attendance

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dungpv04/be-android/src/internal/cache"
	"github.com/dungpv04/be-android/src/internal/config"
	"github.com/dungpv04/be-android/src/internal/events"
	"github.com/dungpv04/be-android/src/internal/middleware"
	"github.com/dungpv04/be-android/src/internal/models"
)

type Handler interface {
	CheckInByToken(c *gin.Context)
	CheckInManual(c *gin.Context)
	Correct(c *gin.Context)
	ListBySession(c *gin.Context)
	ListByStudent(c *gin.Context)
}

type handler struct {
	config       *config.Configuration
	service      Service
	cacheService cache.Service
	publisher    events.Publisher
}

func NewHandler(cfg *config.Configuration, service Service, cacheService cache.Service, publisher events.Publisher) Handler {
	return &handler{
		config:       cfg,
		service:      service,
		cacheService: cacheService,
		publisher:    publisher,
	}
}

type tokenCheckInBody struct {
	Token      string   `json:"token" binding:"required"`
	Confidence *float64 `json:"confidence"`
}

// CheckInByToken marks the calling student present (or late) using the
// session's live token. The student identity comes from the verified
// JWT, never from the body.
func (h *handler) CheckInByToken(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	var body tokenCheckInBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.sendErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	identity, _ := middleware.IdentityFrom(c)
	sessionID := c.Param("id")

	entry, err := h.service.CheckInByToken(ctx, &TokenCheckInRequest{
		SessionID:  sessionID,
		StudentID:  identity.UserID,
		Token:      body.Token,
		Confidence: body.Confidence,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.cacheService.InvalidateRoster(ctx, sessionID)

	if err := h.publisher.PublishAttendanceEvent(entry, models.ActionAttendanceMarked); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Warn("Failed to publish attendance event")
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    entry,
		"message": "Attendance marked successfully",
	})
}

type manualCheckInBody struct {
	StudentID string `json:"studentId" binding:"required"`
	Status    string `json:"status" binding:"required"`
}

func (h *handler) CheckInManual(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	var body manualCheckInBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.sendErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	identity, _ := middleware.IdentityFrom(c)
	sessionID := c.Param("id")

	entry, err := h.service.CheckInManual(ctx, &ManualCheckInRequest{
		SessionID: sessionID,
		StudentID: body.StudentID,
		Status:    body.Status,
		Actor:     identity.UserID,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.cacheService.InvalidateRoster(ctx, sessionID)

	if err := h.publisher.PublishAttendanceEvent(entry, models.ActionAttendanceMarked); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Warn("Failed to publish attendance event")
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    entry,
		"message": "Attendance marked successfully",
	})
}

type correctionBody struct {
	Status  string `json:"status" binding:"required"`
	Note    string `json:"note"`
	Version int64  `json:"version" binding:"required"`
}

// Correct applies an authorized update to an existing entry. The caller
// must echo the version it last read; a stale version means someone else
// edited first and the request is rejected.
func (h *handler) Correct(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	var body correctionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.sendErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	identity, _ := middleware.IdentityFrom(c)
	sessionID := c.Param("id")
	studentID := c.Param("studentId")

	entry, err := h.service.Correct(ctx, &CorrectionRequest{
		SessionID:       sessionID,
		StudentID:       studentID,
		Status:          body.Status,
		Note:            body.Note,
		ExpectedVersion: body.Version,
		Actor:           identity.UserID,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.cacheService.InvalidateRoster(ctx, sessionID)

	if err := h.publisher.PublishAttendanceEvent(entry, models.ActionAttendanceCorrected); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Warn("Failed to publish attendance event")
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    entry,
		"message": "Attendance corrected successfully",
	})
}

func (h *handler) ListBySession(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	sessionID := c.Param("id")

	if cached, err := h.cacheService.GetRoster(ctx, sessionID); err == nil && cached != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    cached,
			"message": "Attendances retrieved successfully (from cache)",
		})
		return
	}

	entries, err := h.service.ListBySession(ctx, sessionID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	if len(entries) > 0 {
		h.cacheService.CacheRoster(ctx, sessionID, entries)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    entries,
		"message": "Attendances retrieved successfully",
	})
}

// ListByStudent serves a teacher, an admin, or the student asking about
// their own record.
func (h *handler) ListByStudent(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	studentID := c.Param("id")

	identity, _ := middleware.IdentityFrom(c)
	if identity.Role == middleware.RoleStudent && identity.UserID != studentID {
		h.sendErrorResponse(c, http.StatusForbidden, "Access forbidden", "Students may only view their own attendance")
		return
	}

	entries, err := h.service.ListByStudent(ctx, studentID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    entries,
		"message": "Attendances retrieved successfully",
	})
}

func (h *handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), time.Duration(h.config.App.Timeout)*time.Second)
}

func (h *handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		h.sendErrorResponse(c, http.StatusNotFound, "Session not found", "No session found with the provided ID")
	case errors.Is(err, models.ErrAttendanceNotFound):
		h.sendErrorResponse(c, http.StatusNotFound, "Attendance not found", "No attendance record for this student and session")
	case errors.Is(err, models.ErrTokenInvalid):
		h.sendErrorResponse(c, http.StatusUnprocessableEntity, "Token invalid", "The attendance token is wrong, expired, or the session is not open")
	case errors.Is(err, models.ErrAlreadyMarked):
		h.sendErrorResponse(c, http.StatusConflict, "Already marked", "Attendance has already been recorded for this session")
	case errors.Is(err, models.ErrConcurrentModification):
		h.sendErrorResponse(c, http.StatusConflict, "Concurrent modification", "The record changed since you read it - reload and retry")
	case errors.Is(err, models.ErrInvalidAttendanceInput):
		h.sendErrorResponse(c, http.StatusBadRequest, "Invalid attendance input", "The attendance status is not recognized")
	default:
		logrus.WithError(err).Error("Attendance operation failed")
		h.sendErrorResponse(c, http.StatusInternalServerError, "Attendance operation failed", err.Error())
	}
}

func (h *handler) sendErrorResponse(c *gin.Context, statusCode int, error, message string) {
	c.JSON(statusCode, gin.H{
		"error":   error,
		"success": false,
		"message": message,
	})
}
