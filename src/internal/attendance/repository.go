package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dungpv04/be-android/src/clients"
	"github.com/dungpv04/be-android/src/internal/models"
)

// Repository is the durable attendance store. The at-most-once invariant
// lives here: Insert relies on the unique (session_id, student_id) index,
// never on an application-level existence check.
type Repository interface {
	Insert(ctx context.Context, entry *models.Attendance) (*models.Attendance, error)
	GetBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*models.Attendance, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.Attendance, error)
	ListByStudent(ctx context.Context, studentID string) ([]*models.Attendance, error)
	UpdateIfVersion(ctx context.Context, sessionID, studentID string, expectedVersion int64, status, note string) (bool, error)
	EnsureIndexes(ctx context.Context) error
}

type repository struct {
	collection *mongo.Collection
}

func NewRepository(db *clients.MongoDB, collectionName string) Repository {
	return &repository{collection: db.Database.Collection(collectionName)}
}

// EnsureIndexes creates the unique compound index that enforces the
// at-most-once-per-student invariant at the storage layer.
func (r *repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "student_id", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("uniq_session_student"),
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to create attendance index")
		return models.ErrDatabaseConnection
	}
	return nil
}

// Insert is the conditional insert: the first writer for a
// (session_id, student_id) pair wins, all others get ErrAlreadyMarked
// from the unique index.
func (r *repository) Insert(ctx context.Context, entry *models.Attendance) (*models.Attendance, error) {
	now := time.Now().UTC()
	entry.ID = primitive.NewObjectID()
	entry.Version = 1
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, models.ErrAlreadyMarked
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"session_id": entry.SessionID,
			"student_id": entry.StudentID,
		}).Error("Failed to insert attendance")
		return nil, models.ErrDatabaseInsert
	}

	return entry, nil
}

func (r *repository) GetBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*models.Attendance, error) {
	filter := bson.M{
		"session_id": sessionID,
		"student_id": studentID,
	}

	var entry models.Attendance
	err := r.collection.FindOne(ctx, filter).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrAttendanceNotFound
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"student_id": studentID,
		}).Error("Failed to get attendance")
		return nil, models.ErrDatabaseQuery
	}

	return &entry, nil
}

func (r *repository) ListBySession(ctx context.Context, sessionID string) ([]*models.Attendance, error) {
	return r.list(ctx, bson.M{"session_id": sessionID})
}

func (r *repository) ListByStudent(ctx context.Context, studentID string) ([]*models.Attendance, error) {
	return r.list(ctx, bson.M{"student_id": studentID})
}

func (r *repository) list(ctx context.Context, filter bson.M) ([]*models.Attendance, error) {
	opts := options.Find().SetSort(bson.M{"marked_at": 1})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		logrus.WithError(err).Error("Failed to list attendances")
		return nil, models.ErrDatabaseQuery
	}
	defer cursor.Close(ctx)

	var entries []*models.Attendance
	for cursor.Next(ctx) {
		var entry models.Attendance
		if err := cursor.Decode(&entry); err != nil {
			logrus.WithError(err).Error("Failed to decode attendance")
			continue
		}
		entries = append(entries, &entry)
	}

	if err := cursor.Err(); err != nil {
		logrus.WithError(err).Error("Cursor error")
		return nil, models.ErrDatabaseQuery
	}

	return entries, nil
}

// UpdateIfVersion applies a correction only when the caller still holds
// the entry's current version. A concurrent edit bumps the version and
// makes the stale write a no-op.
func (r *repository) UpdateIfVersion(ctx context.Context, sessionID, studentID string, expectedVersion int64, status, note string) (bool, error) {
	filter := bson.M{
		"session_id": sessionID,
		"student_id": studentID,
		"version":    expectedVersion,
	}
	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"note":       note,
			"updated_at": time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"student_id": studentID,
		}).Error("Failed to update attendance")
		return false, models.ErrDatabaseUpdate
	}

	return result.ModifiedCount == 1, nil
}
