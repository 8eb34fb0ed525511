package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dungpv04/be-android/src/internal/config"
	"github.com/dungpv04/be-android/src/internal/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeRepository mirrors the conditional-update semantics of the mongo
// repository in memory.
type fakeRepository struct {
	sessions map[string]*models.Session
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{sessions: make(map[string]*models.Session)}
}

func (r *fakeRepository) Create(_ context.Context, session *models.Session) (*models.Session, error) {
	session.ID = primitive.NewObjectID()
	r.sessions[session.ID.Hex()] = session
	return session, nil
}

func (r *fakeRepository) GetByID(_ context.Context, sessionID string) (*models.Session, error) {
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *fakeRepository) ListOpen(_ context.Context) ([]*models.Session, error) {
	var open []*models.Session
	for _, session := range r.sessions {
		if session.Status == models.SessionStatusOpen {
			copied := *session
			open = append(open, &copied)
		}
	}
	return open, nil
}

func (r *fakeRepository) OpenIfClosed(_ context.Context, sessionID string, now time.Time) (bool, error) {
	session, ok := r.sessions[sessionID]
	if !ok || session.Status != models.SessionStatusClosed || session.ClosedAt != nil || !session.PlannedEnd.After(now) {
		return false, nil
	}
	session.Status = models.SessionStatusOpen
	return true, nil
}

func (r *fakeRepository) SetCurrentToken(_ context.Context, sessionID, value string, expiry time.Time) (bool, error) {
	session, ok := r.sessions[sessionID]
	if !ok || session.Status != models.SessionStatusOpen {
		return false, nil
	}
	session.TokenValue = &value
	session.TokenExpiry = &expiry
	return true, nil
}

func (r *fakeRepository) CloseIfOpen(_ context.Context, sessionID string, now time.Time) (bool, error) {
	session, ok := r.sessions[sessionID]
	if !ok || session.Status != models.SessionStatusOpen {
		return false, nil
	}
	session.Status = models.SessionStatusClosed
	session.ClosedAt = &now
	session.TokenValue = nil
	session.TokenExpiry = nil
	return true, nil
}

func (r *fakeRepository) UpdateSchedule(_ context.Context, sessionID string, start, end time.Time) (bool, error) {
	session, ok := r.sessions[sessionID]
	if !ok || session.ClosedAt != nil {
		return false, nil
	}
	session.PlannedStart = start
	session.PlannedEnd = end
	return true, nil
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		Attendance: config.AttendanceConfig{
			GracePeriodMinutes:     10,
			TokenDefaultTTLMinutes: 30,
			TokenMinTTLMinutes:     1,
			TokenMaxTTLMinutes:     60,
		},
	}
}

func newTestService(t *testing.T) (Service, *fakeRepository, *fakeClock) {
	t.Helper()
	repo := newFakeRepository()
	clk := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	return NewService(repo, testConfig(), clk), repo, clk
}

func createSession(t *testing.T, svc Service, clk *fakeClock) *models.Session {
	t.Helper()
	session, err := svc.Create(context.Background(), &CreateSessionRequest{
		ClassID:      "class-101",
		Title:        "Databases",
		PlannedStart: clk.now,
		PlannedEnd:   clk.now.Add(90 * time.Minute),
	}, "teacher-1")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return session
}

func TestCreateRejectsInvertedWindow(t *testing.T) {
	svc, _, clk := newTestService(t)

	_, err := svc.Create(context.Background(), &CreateSessionRequest{
		ClassID:      "class-101",
		PlannedStart: clk.now,
		PlannedEnd:   clk.now.Add(-time.Hour),
	}, "teacher-1")
	if !errors.Is(err, models.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestOpenTransitionsClosedSession(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)

	opened, err := svc.Open(context.Background(), session.ID.Hex())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if opened.Status != models.SessionStatusOpen {
		t.Fatalf("expected open status, got %q", opened.Status)
	}
}

func TestOpenRejectsUnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Open(context.Background(), primitive.NewObjectID().Hex())
	if !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestOpenRejectsAlreadyOpenSession(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)

	if _, err := svc.Open(context.Background(), session.ID.Hex()); err != nil {
		t.Fatalf("first Open returned error: %v", err)
	}

	_, err := svc.Open(context.Background(), session.ID.Hex())
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestOpenRejectsSessionPastPlannedEnd(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)

	clk.Advance(2 * time.Hour)

	_, err := svc.Open(context.Background(), session.ID.Hex())
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)

	if _, err := svc.Open(context.Background(), session.ID.Hex()); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	closed, err := svc.Close(context.Background(), session.ID.Hex())
	if err != nil || !closed {
		t.Fatalf("expected first Close to succeed, got closed=%v err=%v", closed, err)
	}

	// Closure is one-way: a session that has been through Close can
	// never be reopened.
	_, err = svc.Open(context.Background(), session.ID.Hex())
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after close, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)

	if _, err := svc.Open(context.Background(), session.ID.Hex()); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	closed, err := svc.Close(context.Background(), session.ID.Hex())
	if err != nil || !closed {
		t.Fatalf("expected first Close to report true, got closed=%v err=%v", closed, err)
	}

	closed, err = svc.Close(context.Background(), session.ID.Hex())
	if err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	if closed {
		t.Fatal("expected second Close to report false")
	}
}

func TestIssueTokenRequiresOpenSession(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)

	_, err := svc.IssueToken(context.Background(), session.ID.Hex(), 0)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestIssueTokenUsesDefaultTTL(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)

	if _, err := svc.Open(context.Background(), session.ID.Hex()); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	token, err := svc.IssueToken(context.Background(), session.ID.Hex(), 0)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	want := clk.now.Add(30 * time.Minute)
	if !token.ExpiresAt.Equal(want) {
		t.Fatalf("expected default expiry %v, got %v", want, token.ExpiresAt)
	}
}

func TestIssueTokenClampsTTL(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)

	if _, err := svc.Open(context.Background(), session.ID.Hex()); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	token, err := svc.IssueToken(context.Background(), session.ID.Hex(), 6*time.Hour)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	if want := clk.now.Add(time.Hour); !token.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry clamped to %v, got %v", want, token.ExpiresAt)
	}

	token, err = svc.IssueToken(context.Background(), session.ID.Hex(), time.Second)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	if want := clk.now.Add(time.Minute); !token.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry clamped to %v, got %v", want, token.ExpiresAt)
	}
}

func TestIssueTokenInvalidatesPreviousToken(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)
	ctx := context.Background()

	if _, err := svc.Open(ctx, session.ID.Hex()); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	first, err := svc.IssueToken(ctx, session.ID.Hex(), 10*time.Minute)
	if err != nil {
		t.Fatalf("first IssueToken returned error: %v", err)
	}
	second, err := svc.IssueToken(ctx, session.ID.Hex(), 10*time.Minute)
	if err != nil {
		t.Fatalf("second IssueToken returned error: %v", err)
	}

	valid, err := svc.ValidateToken(ctx, session.ID.Hex(), first.Value)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if valid {
		t.Fatal("expected superseded token to be rejected")
	}

	valid, err = svc.ValidateToken(ctx, session.ID.Hex(), second.Value)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if !valid {
		t.Fatal("expected current token to validate")
	}
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)
	ctx := context.Background()

	if _, err := svc.Open(ctx, session.ID.Hex()); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	token, err := svc.IssueToken(ctx, session.ID.Hex(), 5*time.Minute)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	clk.Advance(6 * time.Minute)

	valid, err := svc.ValidateToken(ctx, session.ID.Hex(), token.Value)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if valid {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidateTokenRejectsClosedSession(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)
	ctx := context.Background()

	if _, err := svc.Open(ctx, session.ID.Hex()); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	token, err := svc.IssueToken(ctx, session.ID.Hex(), time.Hour)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	if _, err := svc.Close(ctx, session.ID.Hex()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	// The token itself has not expired, but the session is no longer
	// accepting check-ins.
	valid, err := svc.ValidateToken(ctx, session.ID.Hex(), token.Value)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if valid {
		t.Fatal("expected token of a closed session to be rejected")
	}
}

func TestCurrentTokenReportsNoActiveToken(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)
	ctx := context.Background()

	if _, err := svc.Open(ctx, session.ID.Hex()); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	_, err := svc.CurrentToken(ctx, session.ID.Hex())
	if !errors.Is(err, models.ErrNoActiveToken) {
		t.Fatalf("expected ErrNoActiveToken, got %v", err)
	}

	if _, err := svc.IssueToken(ctx, session.ID.Hex(), 5*time.Minute); err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	clk.Advance(10 * time.Minute)

	_, err = svc.CurrentToken(ctx, session.ID.Hex())
	if !errors.Is(err, models.ErrNoActiveToken) {
		t.Fatalf("expected ErrNoActiveToken after expiry, got %v", err)
	}
}

func TestRescheduleRejectsPastEnd(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)

	_, err := svc.Reschedule(context.Background(), session.ID.Hex(), clk.now.Add(-2*time.Hour), clk.now.Add(-time.Hour))
	if !errors.Is(err, models.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestRescheduleRejectsClosedSession(t *testing.T) {
	svc, _, clk := newTestService(t)
	session := createSession(t, svc, clk)
	ctx := context.Background()

	if _, err := svc.Open(ctx, session.ID.Hex()); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if _, err := svc.Close(ctx, session.ID.Hex()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	_, err := svc.Reschedule(ctx, session.ID.Hex(), clk.now, clk.now.Add(time.Hour))
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
