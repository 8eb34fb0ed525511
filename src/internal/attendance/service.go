package attendance

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dungpv04/be-android/src/internal/clock"
	"github.com/dungpv04/be-android/src/internal/config"
	"github.com/dungpv04/be-android/src/internal/models"
)

// SessionDirectory is the slice of the session lifecycle service that
// intake needs: a point lookup and the side-effect-free token check.
type SessionDirectory interface {
	GetByID(ctx context.Context, sessionID string) (*models.Session, error)
	ValidateToken(ctx context.Context, sessionID, token string) (bool, error)
}

// Service validates incoming check-ins, classifies lateness and writes
// attendance records. None of its failures are retried here: a duplicate
// or an expired token is terminal for the caller, not transient.
type Service interface {
	CheckInByToken(ctx context.Context, req *TokenCheckInRequest) (*models.Attendance, error)
	CheckInManual(ctx context.Context, req *ManualCheckInRequest) (*models.Attendance, error)
	Correct(ctx context.Context, req *CorrectionRequest) (*models.Attendance, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.Attendance, error)
	ListByStudent(ctx context.Context, studentID string) ([]*models.Attendance, error)
}

// TokenCheckInRequest is a student check-in against the session's live
// token. Confidence comes from the external recognizer and is stored
// as-is; client meta is kept for audit, not for trust decisions.
type TokenCheckInRequest struct {
	SessionID  string
	StudentID  string
	Token      string
	Confidence *float64
	IPAddress  string
	UserAgent  string
}

// ManualCheckInRequest is an instructor marking a student directly.
type ManualCheckInRequest struct {
	SessionID string
	StudentID string
	Status    string
	Actor     string
}

// CorrectionRequest updates an existing entry under an optimistic
// version precondition.
type CorrectionRequest struct {
	SessionID       string
	StudentID       string
	Status          string
	Note            string
	ExpectedVersion int64
	Actor           string
}

type service struct {
	repository Repository
	sessions   SessionDirectory
	cfg        *config.AttendanceConfig
	clock      clock.Clock
}

func NewService(repository Repository, sessions SessionDirectory, cfg *config.Configuration, clk clock.Clock) Service {
	return &service{
		repository: repository,
		sessions:   sessions,
		cfg:        &cfg.Attendance,
		clock:      clk,
	}
}

func (s *service) CheckInByToken(ctx context.Context, req *TokenCheckInRequest) (*models.Attendance, error) {
	session, err := s.sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	valid, err := s.sessions.ValidateToken(ctx, req.SessionID, req.Token)
	if err != nil {
		return nil, err
	}
	if !valid {
		logrus.WithFields(logrus.Fields{
			"session_id": req.SessionID,
			"student_id": req.StudentID,
		}).Warn("Check-in rejected: token invalid")
		return nil, models.ErrTokenInvalid
	}

	now := s.clock.Now()

	entry := &models.Attendance{
		SessionID:  req.SessionID,
		StudentID:  req.StudentID,
		Status:     s.classify(session, now),
		Method:     models.AttendanceMethodQRToken,
		MarkedAt:   now,
		Confidence: req.Confidence,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
	}

	created, err := s.repository.Insert(ctx, entry)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"session_id": created.SessionID,
		"student_id": created.StudentID,
		"status":     created.Status,
	}).Info("Attendance marked by token")

	return created, nil
}

func (s *service) CheckInManual(ctx context.Context, req *ManualCheckInRequest) (*models.Attendance, error) {
	if !models.IsValidAttendanceStatus(req.Status) {
		return nil, models.ErrInvalidAttendanceInput
	}

	if _, err := s.sessions.GetByID(ctx, req.SessionID); err != nil {
		return nil, err
	}

	entry := &models.Attendance{
		SessionID: req.SessionID,
		StudentID: req.StudentID,
		Status:    req.Status,
		Method:    models.AttendanceMethodManual,
		MarkedAt:  s.clock.Now(),
		MarkedBy:  req.Actor,
	}

	created, err := s.repository.Insert(ctx, entry)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"session_id": created.SessionID,
		"student_id": created.StudentID,
		"status":     created.Status,
		"actor":      req.Actor,
	}).Info("Attendance marked manually")

	return created, nil
}

// Correct is the only write path that touches an existing entry.
// Corrections are an administrative action and stay available after the
// session has closed.
func (s *service) Correct(ctx context.Context, req *CorrectionRequest) (*models.Attendance, error) {
	if !models.IsValidAttendanceStatus(req.Status) {
		return nil, models.ErrInvalidAttendanceInput
	}

	updated, err := s.repository.UpdateIfVersion(ctx, req.SessionID, req.StudentID, req.ExpectedVersion, req.Status, req.Note)
	if err != nil {
		return nil, err
	}
	if !updated {
		// The precondition failed: either the entry is gone or someone
		// edited it first. The caller must reload and retry.
		if _, err := s.repository.GetBySessionAndStudent(ctx, req.SessionID, req.StudentID); err != nil {
			return nil, err
		}
		return nil, models.ErrConcurrentModification
	}

	logrus.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"student_id": req.StudentID,
		"status":     req.Status,
		"actor":      req.Actor,
	}).Info("Attendance corrected")

	return s.repository.GetBySessionAndStudent(ctx, req.SessionID, req.StudentID)
}

func (s *service) ListBySession(ctx context.Context, sessionID string) ([]*models.Attendance, error) {
	return s.repository.ListBySession(ctx, sessionID)
}

func (s *service) ListByStudent(ctx context.Context, studentID string) ([]*models.Attendance, error) {
	return s.repository.ListByStudent(ctx, studentID)
}

// classify compares the check-in instant against plannedStart plus the
// configured grace period.
func (s *service) classify(session *models.Session, now time.Time) string {
	grace := time.Duration(s.cfg.GracePeriodMinutes) * time.Minute
	if now.After(session.PlannedStart.Add(grace)) {
		return models.AttendanceStatusLate
	}
	return models.AttendanceStatusPresent
}
