package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dungpv04/be-android/src/internal/clock"
	"github.com/dungpv04/be-android/src/internal/config"
	"github.com/dungpv04/be-android/src/internal/events"
	"github.com/dungpv04/be-android/src/internal/models"
)

// SessionCloser is the one call the scheduler needs from the session
// lifecycle. Close is idempotent, so at-least-once firing is safe.
type SessionCloser interface {
	Close(ctx context.Context, sessionID string) (bool, error)
}

// Service guarantees every session is closed at or after its planned end
// even when no API call ever asks for it. Near-term jobs get an
// in-process timer; everything else is caught by the periodic sweep, and
// pending jobs are reloaded from the store on startup.
type Service interface {
	Schedule(ctx context.Context, sessionID string, fireAt time.Time) (*models.ClosureJob, error)
	Cancel(ctx context.Context, sessionID string) error
	Sweep(ctx context.Context)
	Start(ctx context.Context) error
	Stop()
	Failures() int64
}

type service struct {
	repository Repository
	closer     SessionCloser
	publisher  events.Publisher
	cfg        *config.SchedulerConfig
	clock      clock.Clock

	mu     sync.Mutex
	timers map[string]*time.Timer

	stop     chan struct{}
	stopOnce sync.Once
	failures atomic.Int64
}

func NewService(repository Repository, closer SessionCloser, publisher events.Publisher, cfg *config.Configuration, clk clock.Clock) Service {
	return &service{
		repository: repository,
		closer:     closer,
		publisher:  publisher,
		cfg:        &cfg.Scheduler,
		clock:      clk,
		timers:     make(map[string]*time.Timer),
		stop:       make(chan struct{}),
	}
}

func (s *service) Schedule(ctx context.Context, sessionID string, fireAt time.Time) (*models.ClosureJob, error) {
	job := &models.ClosureJob{
		SessionID: sessionID,
		FireAt:    fireAt.UTC(),
	}

	created, err := s.repository.Insert(ctx, job)
	if err != nil {
		return nil, err
	}

	s.registerTimer(created)

	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"fire_at":    created.FireAt,
	}).Info("Closure scheduled")

	return created, nil
}

func (s *service) Cancel(ctx context.Context, sessionID string) error {
	cancelled, err := s.repository.CancelBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !cancelled {
		return models.ErrJobNotFound
	}

	s.mu.Lock()
	if timer, ok := s.timers[sessionID]; ok {
		timer.Stop()
		delete(s.timers, sessionID)
	}
	s.mu.Unlock()

	logrus.WithField("session_id", sessionID).Info("Closure cancelled")
	return nil
}

// Start recovers pending jobs from the store and launches the sweep
// loop. An in-memory-only timer would lose the obligation across a
// restart, which is exactly what this component exists to prevent.
func (s *service) Start(ctx context.Context) error {
	pending, err := s.repository.ListPending(ctx)
	if err != nil {
		return err
	}

	for _, job := range pending {
		s.registerTimer(job)
	}

	logrus.WithField("pending_jobs", len(pending)).Info("Closure scheduler recovered pending jobs")

	go s.loop(ctx)
	return nil
}

func (s *service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	s.mu.Lock()
	for sessionID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, sessionID)
	}
	s.mu.Unlock()
}

// Sweep fires every pending job whose fireAt has passed. Jobs whose
// Close fails stay pending and are retried on the next interval; a late
// close is a nuisance, not data loss.
func (s *service) Sweep(ctx context.Context) {
	due, err := s.repository.ListDue(ctx, s.clock.Now())
	if err != nil {
		logrus.WithError(err).Error("Closure sweep failed to load due jobs")
		s.failures.Add(1)
		return
	}

	for _, job := range due {
		s.fire(ctx, job)
	}
}

// Failures reports how many close attempts have failed since startup;
// surfaced through the health endpoint.
func (s *service) Failures() int64 {
	return s.failures.Load()
}

func (s *service) loop(ctx context.Context) {
	interval := time.Duration(s.cfg.SweepIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stop:
			logrus.Info("Closure scheduler stopped")
			return
		case <-ctx.Done():
			logrus.Info("Closure scheduler context cancelled")
			return
		}
	}
}

func (s *service) dropTimer(sessionID string) {
	s.mu.Lock()
	if timer, ok := s.timers[sessionID]; ok {
		timer.Stop()
		delete(s.timers, sessionID)
	}
	s.mu.Unlock()
}

// registerTimer arms an in-process timer for jobs firing inside the
// look-ahead horizon, so closure latency does not depend on the sweep
// interval for the common case. The sweep remains the safety net.
func (s *service) registerTimer(job *models.ClosureJob) {
	horizon := time.Duration(s.cfg.LookAheadHorizonMinutes) * time.Minute
	delay := job.FireAt.Sub(s.clock.Now())
	if delay > horizon {
		return
	}
	if delay < 0 {
		delay = 0
	}

	jobCopy := *job
	s.mu.Lock()
	if prev, ok := s.timers[job.SessionID]; ok {
		prev.Stop()
	}
	s.timers[job.SessionID] = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.fire(ctx, &jobCopy)
	})
	s.mu.Unlock()
}

func (s *service) fire(ctx context.Context, job *models.ClosureJob) {
	closed, err := s.closer.Close(ctx, job.SessionID)
	if err != nil {
		// Leave the job pending; the next sweep retries it. The timer
		// entry is spent either way and must not linger in the map.
		s.failures.Add(1)
		s.dropTimer(job.SessionID)
		if recErr := s.repository.RecordFailure(ctx, job.ID.Hex(), err.Error()); recErr != nil {
			logrus.WithError(recErr).WithField("job_id", job.ID.Hex()).Error("Failed to record closure failure")
		}
		logrus.WithError(err).WithField("session_id", job.SessionID).Warn("Closure attempt failed, will retry")
		return
	}

	// Closed either way is success: closed=false just means someone got
	// there first.
	fired, err := s.repository.MarkFired(ctx, job.ID.Hex(), s.clock.Now())
	if err != nil {
		s.failures.Add(1)
		s.dropTimer(job.SessionID)
		logrus.WithError(err).WithField("job_id", job.ID.Hex()).Error("Failed to mark closure job fired")
		return
	}

	s.dropTimer(job.SessionID)

	if fired && closed && s.publisher != nil {
		if err := s.publisher.PublishSessionEvent(job.SessionID, models.ActionSessionClosed, "scheduler"); err != nil {
			logrus.WithError(err).WithField("session_id", job.SessionID).Warn("Failed to publish session closed event")
		}
	}

	logrus.WithFields(logrus.Fields{
		"session_id": job.SessionID,
		"closed":     closed,
	}).Info("Closure job fired")
}
