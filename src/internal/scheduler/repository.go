package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dungpv04/be-android/src/clients"
	"github.com/dungpv04/be-android/src/internal/models"
)

// Repository is the durable closure job store. Jobs are what make the
// scheduler crash-tolerant: a restart between Schedule and fireAt finds
// the obligation still pending here.
type Repository interface {
	Insert(ctx context.Context, job *models.ClosureJob) (*models.ClosureJob, error)
	ListDue(ctx context.Context, now time.Time) ([]*models.ClosureJob, error)
	ListPending(ctx context.Context) ([]*models.ClosureJob, error)
	MarkFired(ctx context.Context, jobID string, firedAt time.Time) (bool, error)
	RecordFailure(ctx context.Context, jobID string, cause string) error
	CancelBySession(ctx context.Context, sessionID string) (bool, error)
}

type repository struct {
	collection *mongo.Collection
}

func NewRepository(db *clients.MongoDB, collectionName string) Repository {
	return &repository{collection: db.Database.Collection(collectionName)}
}

func (r *repository) Insert(ctx context.Context, job *models.ClosureJob) (*models.ClosureJob, error) {
	now := time.Now().UTC()
	job.ID = primitive.NewObjectID()
	job.State = models.JobStatePending
	job.CreatedAt = now
	job.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, job); err != nil {
		logrus.WithError(err).WithField("session_id", job.SessionID).Error("Failed to insert closure job")
		return nil, models.ErrDatabaseInsert
	}

	return job, nil
}

func (r *repository) ListDue(ctx context.Context, now time.Time) ([]*models.ClosureJob, error) {
	filter := bson.M{
		"state":   models.JobStatePending,
		"fire_at": bson.M{"$lte": now},
	}
	return r.list(ctx, filter)
}

func (r *repository) ListPending(ctx context.Context) ([]*models.ClosureJob, error) {
	return r.list(ctx, bson.M{"state": models.JobStatePending})
}

func (r *repository) list(ctx context.Context, filter bson.M) ([]*models.ClosureJob, error) {
	opts := options.Find().SetSort(bson.M{"fire_at": 1})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		logrus.WithError(err).Error("Failed to list closure jobs")
		return nil, models.ErrDatabaseQuery
	}
	defer cursor.Close(ctx)

	var jobs []*models.ClosureJob
	for cursor.Next(ctx) {
		var job models.ClosureJob
		if err := cursor.Decode(&job); err != nil {
			logrus.WithError(err).Error("Failed to decode closure job")
			continue
		}
		jobs = append(jobs, &job)
	}

	if err := cursor.Err(); err != nil {
		logrus.WithError(err).Error("Cursor error")
		return nil, models.ErrDatabaseQuery
	}

	return jobs, nil
}

// MarkFired flips Pending -> Fired. The Pending filter makes re-delivery
// harmless: a job can only be fired once in the store even if two sweeps
// race over it.
func (r *repository) MarkFired(ctx context.Context, jobID string, firedAt time.Time) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(jobID)
	if err != nil {
		return false, models.ErrJobNotFound
	}

	filter := bson.M{
		"_id":   oid,
		"state": models.JobStatePending,
	}
	update := bson.M{
		"$set": bson.M{
			"state":      models.JobStateFired,
			"fired_at":   firedAt,
			"updated_at": firedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		logrus.WithError(err).WithField("job_id", jobID).Error("Failed to mark closure job fired")
		return false, models.ErrDatabaseUpdate
	}

	return result.ModifiedCount == 1, nil
}

func (r *repository) RecordFailure(ctx context.Context, jobID string, cause string) error {
	oid, err := primitive.ObjectIDFromHex(jobID)
	if err != nil {
		return models.ErrJobNotFound
	}

	update := bson.M{
		"$set": bson.M{
			"last_error": cause,
			"updated_at": time.Now().UTC(),
		},
		"$inc": bson.M{"attempts": 1},
	}

	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": oid}, update); err != nil {
		logrus.WithError(err).WithField("job_id", jobID).Error("Failed to record closure job failure")
		return models.ErrDatabaseUpdate
	}

	return nil
}

// CancelBySession marks the session's pending job cancelled. A fired job
// never matches and is never un-fired.
func (r *repository) CancelBySession(ctx context.Context, sessionID string) (bool, error) {
	filter := bson.M{
		"session_id": sessionID,
		"state":      models.JobStatePending,
	}
	update := bson.M{
		"$set": bson.M{
			"state":      models.JobStateCancelled,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to cancel closure job")
		return false, models.ErrDatabaseUpdate
	}

	return result.ModifiedCount > 0, nil
}
