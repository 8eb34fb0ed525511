package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dungpv04/be-android/src/internal/config"
	"github.com/dungpv04/be-android/src/internal/models"
)

// fakeClock is safe for concurrent use: armed timers read it from their
// own goroutines while the test advances it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeRepository keeps closure jobs in memory with the same
// pending-filter semantics as the mongo repository.
type fakeRepository struct {
	mu   sync.Mutex
	jobs map[string]*models.ClosureJob
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{jobs: make(map[string]*models.ClosureJob)}
}

func (r *fakeRepository) Insert(_ context.Context, job *models.ClosureJob) (*models.ClosureJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job.ID = primitive.NewObjectID()
	job.State = models.JobStatePending
	r.jobs[job.ID.Hex()] = job
	return job, nil
}

func (r *fakeRepository) ListDue(_ context.Context, now time.Time) ([]*models.ClosureJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*models.ClosureJob
	for _, job := range r.jobs {
		if job.State == models.JobStatePending && !job.FireAt.After(now) {
			copied := *job
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (r *fakeRepository) ListPending(_ context.Context) ([]*models.ClosureJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*models.ClosureJob
	for _, job := range r.jobs {
		if job.State == models.JobStatePending {
			copied := *job
			pending = append(pending, &copied)
		}
	}
	return pending, nil
}

func (r *fakeRepository) MarkFired(_ context.Context, jobID string, firedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok || job.State != models.JobStatePending {
		return false, nil
	}
	job.State = models.JobStateFired
	job.FiredAt = &firedAt
	return true, nil
}

func (r *fakeRepository) RecordFailure(_ context.Context, jobID string, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return models.ErrJobNotFound
	}
	job.Attempts++
	job.LastError = cause
	return nil
}

func (r *fakeRepository) CancelBySession(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancelled := false
	for _, job := range r.jobs {
		if job.SessionID == sessionID && job.State == models.JobStatePending {
			job.State = models.JobStateCancelled
			cancelled = true
		}
	}
	return cancelled, nil
}

func (r *fakeRepository) get(jobID string) *models.ClosureJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *r.jobs[jobID]
	return &copied
}

type fakeCloser struct {
	mu     sync.Mutex
	calls  []string
	err    error
	closed bool
}

func (f *fakeCloser) Close(_ context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sessionID)
	return f.closed, f.err
}

func (f *fakeCloser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		Scheduler: config.SchedulerConfig{
			SweepIntervalSeconds:    30,
			LookAheadHorizonMinutes: 60,
		},
	}
}

func newTestService(t *testing.T) (Service, *fakeRepository, *fakeCloser, *fakeClock) {
	t.Helper()

	repo := newFakeRepository()
	closer := &fakeCloser{closed: true}
	clk := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	return NewService(repo, closer, nil, testConfig(), clk), repo, closer, clk
}

// Schedule beyond the look-ahead horizon so no in-process timer is
// armed and the tests drive firing through Sweep deterministically.
func scheduleFarJob(t *testing.T, svc Service, clk *fakeClock, sessionID string) *models.ClosureJob {
	t.Helper()

	job, err := svc.Schedule(context.Background(), sessionID, clk.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	return job
}

func TestSweepFiresDueJobs(t *testing.T) {
	svc, repo, closer, clk := newTestService(t)
	ctx := context.Background()

	job := scheduleFarJob(t, svc, clk, "session-1")

	// Not due yet.
	svc.Sweep(ctx)
	if closer.callCount() != 0 {
		t.Fatalf("expected no close before fire_at, got %d calls", closer.callCount())
	}

	clk.Advance(3 * time.Hour)
	svc.Sweep(ctx)

	if closer.callCount() != 1 {
		t.Fatalf("expected 1 close call, got %d", closer.callCount())
	}

	stored := repo.get(job.ID.Hex())
	if stored.State != models.JobStateFired {
		t.Fatalf("expected fired state, got %q", stored.State)
	}
	if stored.FiredAt == nil {
		t.Fatal("expected fired_at to be set")
	}
}

func TestSweepFiresJobOnlyOnce(t *testing.T) {
	svc, _, closer, clk := newTestService(t)
	ctx := context.Background()

	scheduleFarJob(t, svc, clk, "session-1")
	clk.Advance(3 * time.Hour)

	svc.Sweep(ctx)
	svc.Sweep(ctx)

	if closer.callCount() != 1 {
		t.Fatalf("expected fired job to be skipped on re-sweep, got %d calls", closer.callCount())
	}
}

func TestSweepMarksFiredWhenSessionAlreadyClosed(t *testing.T) {
	svc, repo, closer, clk := newTestService(t)
	ctx := context.Background()

	// closed=false from the closer means a manual close got there first;
	// the job is still done.
	closer.closed = false

	job := scheduleFarJob(t, svc, clk, "session-1")
	clk.Advance(3 * time.Hour)
	svc.Sweep(ctx)

	if got := repo.get(job.ID.Hex()).State; got != models.JobStateFired {
		t.Fatalf("expected fired state, got %q", got)
	}
	if svc.Failures() != 0 {
		t.Fatalf("expected no failures, got %d", svc.Failures())
	}
}

func TestSweepRetriesFailedClose(t *testing.T) {
	svc, repo, closer, clk := newTestService(t)
	ctx := context.Background()

	closer.err = errors.New("store unavailable")

	job := scheduleFarJob(t, svc, clk, "session-1")
	clk.Advance(3 * time.Hour)
	svc.Sweep(ctx)

	stored := repo.get(job.ID.Hex())
	if stored.State != models.JobStatePending {
		t.Fatalf("expected job to stay pending after failure, got %q", stored.State)
	}
	if stored.Attempts != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d", stored.Attempts)
	}
	if svc.Failures() != 1 {
		t.Fatalf("expected 1 failure, got %d", svc.Failures())
	}

	// Store recovers; the next sweep finishes the job.
	closer.mu.Lock()
	closer.err = nil
	closer.mu.Unlock()

	svc.Sweep(ctx)

	if got := repo.get(job.ID.Hex()).State; got != models.JobStateFired {
		t.Fatalf("expected fired state after retry, got %q", got)
	}
}

func TestPendingJobsSurviveRestart(t *testing.T) {
	svc, repo, _, clk := newTestService(t)
	ctx := context.Background()

	job := scheduleFarJob(t, svc, clk, "session-1")
	clk.Advance(3 * time.Hour)

	// Simulate a crash before firing: a fresh service over the same
	// store must still find and fire the job.
	restartedCloser := &fakeCloser{closed: true}
	restarted := NewService(repo, restartedCloser, nil, testConfig(), clk)
	restarted.Sweep(ctx)

	if restartedCloser.callCount() != 1 {
		t.Fatalf("expected recovered job to close session, got %d calls", restartedCloser.callCount())
	}
	if got := repo.get(job.ID.Hex()).State; got != models.JobStateFired {
		t.Fatalf("expected fired state, got %q", got)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	svc, repo, closer, clk := newTestService(t)
	ctx := context.Background()

	job := scheduleFarJob(t, svc, clk, "session-1")

	if err := svc.Cancel(ctx, "session-1"); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if got := repo.get(job.ID.Hex()).State; got != models.JobStateCancelled {
		t.Fatalf("expected cancelled state, got %q", got)
	}

	clk.Advance(3 * time.Hour)
	svc.Sweep(ctx)

	if closer.callCount() != 0 {
		t.Fatalf("expected cancelled job not to fire, got %d calls", closer.callCount())
	}
}

func TestCancelUnknownSessionReportsJobNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.Cancel(context.Background(), "session-unknown")
	if !errors.Is(err, models.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasTimer(svc Service, sessionID string) bool {
	s := svc.(*service)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[sessionID]
	return ok
}

func TestNearTermJobFiresByTimerWithoutSweep(t *testing.T) {
	svc, repo, closer, clk := newTestService(t)
	ctx := context.Background()

	job, err := svc.Schedule(ctx, "session-1", clk.Now().Add(200*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	if !hasTimer(svc, "session-1") {
		t.Fatal("expected a timer to be armed inside the horizon")
	}

	waitFor(t, "timer to close session", func() bool { return closer.callCount() == 1 })
	waitFor(t, "job to be marked fired", func() bool {
		return repo.get(job.ID.Hex()).State == models.JobStateFired
	})
	waitFor(t, "timer entry to be released", func() bool { return !hasTimer(svc, "session-1") })

	// A later sweep finds nothing left to do for this job.
	clk.Advance(time.Hour)
	svc.Sweep(ctx)
	if closer.callCount() != 1 {
		t.Fatalf("expected sweep after timer fire to be a no-op, got %d calls", closer.callCount())
	}
}

func TestStartArmsTimersForRecoveredNearTermJobs(t *testing.T) {
	repo := newFakeRepository()
	closer := &fakeCloser{closed: true}
	clk := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A job persisted by a previous process, due almost immediately.
	job, err := repo.Insert(ctx, &models.ClosureJob{
		SessionID: "session-1",
		FireAt:    clk.Now().Add(20 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	svc := NewService(repo, closer, nil, testConfig(), clk)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer svc.Stop()

	// No Sweep call: only the re-armed timer can fire this.
	waitFor(t, "recovered job to close session", func() bool { return closer.callCount() == 1 })
	waitFor(t, "recovered job to be marked fired", func() bool {
		return repo.get(job.ID.Hex()).State == models.JobStateFired
	})
}

func TestFailedTimerFireReleasesTimerAndStaysPending(t *testing.T) {
	svc, repo, closer, clk := newTestService(t)
	ctx := context.Background()

	closer.err = errors.New("store unavailable")

	job, err := svc.Schedule(ctx, "session-1", clk.Now().Add(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	waitFor(t, "timer to attempt close", func() bool { return closer.callCount() == 1 })
	waitFor(t, "timer entry to be released", func() bool { return !hasTimer(svc, "session-1") })

	if got := repo.get(job.ID.Hex()).State; got != models.JobStatePending {
		t.Fatalf("expected job to stay pending after failure, got %q", got)
	}

	// The sweep retries once the closer recovers.
	closer.mu.Lock()
	closer.err = nil
	closer.mu.Unlock()

	clk.Advance(time.Hour)
	svc.Sweep(ctx)

	if got := repo.get(job.ID.Hex()).State; got != models.JobStateFired {
		t.Fatalf("expected fired state after retry, got %q", got)
	}
}

func TestCancelDoesNotTouchFiredJob(t *testing.T) {
	svc, repo, _, clk := newTestService(t)
	ctx := context.Background()

	job := scheduleFarJob(t, svc, clk, "session-1")
	clk.Advance(3 * time.Hour)
	svc.Sweep(ctx)

	err := svc.Cancel(ctx, "session-1")
	if !errors.Is(err, models.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for fired job, got %v", err)
	}
	if got := repo.get(job.ID.Hex()).State; got != models.JobStateFired {
		t.Fatalf("expected job to stay fired, got %q", got)
	}
}
