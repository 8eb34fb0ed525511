package session

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dungpv04/be-android/src/internal/clock"
	"github.com/dungpv04/be-android/src/internal/config"
	"github.com/dungpv04/be-android/src/internal/models"
)

// Service owns the session state machine: Closed --Open()--> Open
// --Close()--> Closed (terminal). Every transition is a single
// conditional write against the session row.
type Service interface {
	Create(ctx context.Context, req *CreateSessionRequest, actor string) (*models.Session, error)
	GetByID(ctx context.Context, sessionID string) (*models.Session, error)
	ListOpen(ctx context.Context) ([]*models.Session, error)
	Open(ctx context.Context, sessionID string) (*models.Session, error)
	IssueToken(ctx context.Context, sessionID string, ttl time.Duration) (*models.Token, error)
	ValidateToken(ctx context.Context, sessionID, token string) (bool, error)
	CurrentToken(ctx context.Context, sessionID string) (*models.Token, error)
	Close(ctx context.Context, sessionID string) (bool, error)
	Reschedule(ctx context.Context, sessionID string, start, end time.Time) (*models.Session, error)
}

// CreateSessionRequest carries the planned window for a new session.
type CreateSessionRequest struct {
	ClassID      string    `json:"classId" binding:"required"`
	Title        string    `json:"title"`
	PlannedStart time.Time `json:"plannedStart" binding:"required"`
	PlannedEnd   time.Time `json:"plannedEnd" binding:"required"`
}

type service struct {
	repository Repository
	cfg        *config.AttendanceConfig
	clock      clock.Clock
}

func NewService(repository Repository, cfg *config.Configuration, clk clock.Clock) Service {
	return &service{
		repository: repository,
		cfg:        &cfg.Attendance,
		clock:      clk,
	}
}

func (s *service) Create(ctx context.Context, req *CreateSessionRequest, actor string) (*models.Session, error) {
	if !req.PlannedEnd.After(req.PlannedStart) {
		return nil, models.ErrInvalidParams
	}

	status := models.SessionStatusClosed
	if s.cfg.OpenOnCreate {
		status = models.SessionStatusOpen
	}

	session := &models.Session{
		ClassID:      req.ClassID,
		Title:        req.Title,
		PlannedStart: req.PlannedStart.UTC(),
		PlannedEnd:   req.PlannedEnd.UTC(),
		Status:       status,
		CreatedBy:    actor,
	}

	created, err := s.repository.Create(ctx, session)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"session_id":  created.ID.Hex(),
		"class_id":    created.ClassID,
		"planned_end": created.PlannedEnd,
		"status":      created.Status,
	}).Info("Session created")

	return created, nil
}

func (s *service) GetByID(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.repository.GetByID(ctx, sessionID)
}

func (s *service) ListOpen(ctx context.Context) ([]*models.Session, error) {
	return s.repository.ListOpen(ctx)
}

// Open requires the session to be Closed, never terminally closed, and
// its planned end still in the future. Anything else is an invalid
// transition.
func (s *service) Open(ctx context.Context, sessionID string) (*models.Session, error) {
	now := s.clock.Now()

	opened, err := s.repository.OpenIfClosed(ctx, sessionID, now)
	if err != nil {
		return nil, err
	}
	if !opened {
		// The conditional write did not match: distinguish a missing
		// session from a state machine violation.
		if _, err := s.repository.GetByID(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, models.ErrInvalidTransition
	}

	logrus.WithField("session_id", sessionID).Info("Session opened")

	return s.repository.GetByID(ctx, sessionID)
}

// IssueToken mints a fresh token and installs it as the only live token
// for the session. The caller-supplied ttl is clamped server-side to
// bound the attack window of a leaked QR image.
func (s *service) IssueToken(ctx context.Context, sessionID string, ttl time.Duration) (*models.Token, error) {
	ttl = s.clampTTL(ttl)

	value, err := GenerateToken(sessionID)
	if err != nil {
		return nil, err
	}

	expiry := s.clock.Now().Add(ttl)

	set, err := s.repository.SetCurrentToken(ctx, sessionID, value, expiry)
	if err != nil {
		return nil, err
	}
	if !set {
		if _, err := s.repository.GetByID(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, models.ErrInvalidTransition
	}

	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"expires_at": expiry,
	}).Info("Attendance token issued")

	return &models.Token{Value: value, ExpiresAt: expiry}, nil
}

// ValidateToken is a pure read: it neither consumes nor extends the
// token, so any number of students can validate the same projected QR
// code concurrently.
func (s *service) ValidateToken(ctx context.Context, sessionID, token string) (bool, error) {
	session, err := s.repository.GetByID(ctx, sessionID)
	if err != nil {
		return false, err
	}

	if !session.IsOpen() {
		return false, nil
	}
	if !session.HasLiveToken(s.clock.Now()) {
		return false, nil
	}

	return subtle.ConstantTimeCompare([]byte(*session.TokenValue), []byte(token)) == 1, nil
}

// CurrentToken returns the live token for rendering, or ErrNoActiveToken
// when the session has none (never issued, expired, or closed).
func (s *service) CurrentToken(ctx context.Context, sessionID string) (*models.Token, error) {
	session, err := s.repository.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !session.IsOpen() || !session.HasLiveToken(s.clock.Now()) {
		return nil, models.ErrNoActiveToken
	}

	return &models.Token{Value: *session.TokenValue, ExpiresAt: *session.TokenExpiry}, nil
}

// Close transitions Open -> Closed and clears the token. Closing an
// already-closed session reports false with no error, so at-least-once
// delivery from the scheduler is always safe.
func (s *service) Close(ctx context.Context, sessionID string) (bool, error) {
	closed, err := s.repository.CloseIfOpen(ctx, sessionID, s.clock.Now())
	if err != nil {
		return false, err
	}

	if !closed {
		if _, err := s.repository.GetByID(ctx, sessionID); err != nil {
			return false, err
		}
		logrus.WithField("session_id", sessionID).Debug("Session already closed")
		return false, nil
	}

	logrus.WithField("session_id", sessionID).Info("Session closed")
	return true, nil
}

func (s *service) Reschedule(ctx context.Context, sessionID string, start, end time.Time) (*models.Session, error) {
	if !end.After(start) || !end.After(s.clock.Now()) {
		return nil, models.ErrInvalidParams
	}

	updated, err := s.repository.UpdateSchedule(ctx, sessionID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	if !updated {
		if _, err := s.repository.GetByID(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, models.ErrInvalidTransition
	}

	logrus.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"planned_end": end,
	}).Info("Session rescheduled")

	return s.repository.GetByID(ctx, sessionID)
}

func (s *service) clampTTL(ttl time.Duration) time.Duration {
	min := time.Duration(s.cfg.TokenMinTTLMinutes) * time.Minute
	max := time.Duration(s.cfg.TokenMaxTTLMinutes) * time.Minute

	if ttl <= 0 {
		return time.Duration(s.cfg.TokenDefaultTTLMinutes) * time.Minute
	}
	if ttl < min {
		return min
	}
	if ttl > max {
		return max
	}
	return ttl
}
