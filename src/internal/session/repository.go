package session

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

// Repository is the durable session store. Status and token fields are
// changed only through the conditional update methods below; there is no
// unconditional write path for them.
type Repository interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByID(ctx context.Context, sessionID string) (*models.Session, error)
	ListOpen(ctx context.Context) ([]*models.Session, error)
	OpenIfClosed(ctx context.Context, sessionID string, now time.Time) (bool, error)
	SetCurrentToken(ctx context.Context, sessionID, value string, expiry time.Time) (bool, error)
	CloseIfOpen(ctx context.Context, sessionID string, now time.Time) (bool, error)
	UpdateSchedule(ctx context.Context, sessionID string, start, end time.Time) (bool, error)
}

type repository struct {
	collection *mongo.Collection
}

func NewRepository(db *clients.MongoDB, collectionName string) Repository {
	return &repository{collection: db.Database.Collection(collectionName)}
}

func (r *repository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	now := time.Now().UTC()
	session.ID = primitive.NewObjectID()
	session.CreatedAt = now
	session.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		logrus.WithError(err).Error("Failed to insert session")
		return nil, models.ErrDatabaseInsert
	}

	return session, nil
}

func (r *repository) GetByID(ctx context.Context, sessionID string) (*models.Session, error) {
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return nil, models.ErrSessionNotFound
	}

	var session models.Session
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrSessionNotFound
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to get session")
		return nil, models.ErrDatabaseQuery
	}

	return &session, nil
}

func (r *repository) ListOpen(ctx context.Context) ([]*models.Session, error) {
	opts := options.Find().SetSort(bson.M{"planned_start": 1})

	cursor, err := r.collection.Find(ctx, bson.M{"status": models.SessionStatusOpen}, opts)
	if err != nil {
		logrus.WithError(err).Error("Failed to list open sessions")
		return nil, models.ErrDatabaseQuery
	}
	defer cursor.Close(ctx)

	var sessions []*models.Session
	for cursor.Next(ctx) {
		var session models.Session
		if err := cursor.Decode(&session); err != nil {
			logrus.WithError(err).Error("Failed to decode session")
			continue
		}
		sessions = append(sessions, &session)
	}

	if err := cursor.Err(); err != nil {
		logrus.WithError(err).Error("Cursor error")
		return nil, models.ErrDatabaseQuery
	}

	return sessions, nil
}

// OpenIfClosed transitions Closed -> Open in a single conditional write.
// A session that has already been through its terminal closure (closed_at
// set) never matches, so the transition stays one-way.
func (r *repository) OpenIfClosed(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return false, models.ErrSessionNotFound
	}

	filter := bson.M{
		"_id":         oid,
		"status":      models.SessionStatusClosed,
		"closed_at":   bson.M{"$exists": false},
		"planned_end": bson.M{"$gt": now},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     models.SessionStatusOpen,
			"updated_at": now,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to open session")
		return false, models.ErrDatabaseUpdate
	}

	return result.ModifiedCount == 1, nil
}

// SetCurrentToken replaces the live token while the session is Open. The
// previous token stops validating the moment this write lands.
func (r *repository) SetCurrentToken(ctx context.Context, sessionID, value string, expiry time.Time) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return false, models.ErrSessionNotFound
	}

	filter := bson.M{
		"_id":    oid,
		"status": models.SessionStatusOpen,
	}
	update := bson.M{
		"$set": bson.M{
			"current_token_value":  value,
			"current_token_expiry": expiry,
			"updated_at":           time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to set session token")
		return false, models.ErrDatabaseUpdate
	}

	return result.ModifiedCount == 1, nil
}

// CloseIfOpen transitions Open -> Closed and clears the current token in
// the same write. Returns false without error when the session was not
// Open, which is what makes Close idempotent for callers.
func (r *repository) CloseIfOpen(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return false, models.ErrSessionNotFound
	}

	filter := bson.M{
		"_id":    oid,
		"status": models.SessionStatusOpen,
	}
	update := bson.M{
		"$set": bson.M{
			"status":     models.SessionStatusClosed,
			"closed_at":  now,
			"updated_at": now,
		},
		"$unset": bson.M{
			"current_token_value":  "",
			"current_token_expiry": "",
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to close session")
		return false, models.ErrDatabaseUpdate
	}

	return result.ModifiedCount == 1, nil
}

// UpdateSchedule edits the planned window of a session that has not been
// through closure yet.
func (r *repository) UpdateSchedule(ctx context.Context, sessionID string, start, end time.Time) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return false, models.ErrSessionNotFound
	}

	filter := bson.M{
		"_id":       oid,
		"closed_at": bson.M{"$exists": false},
	}
	update := bson.M{
		"$set": bson.M{
			"planned_start": start,
			"planned_end":   end,
			"updated_at":    time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to update session schedule")
		return false, models.ErrDatabaseUpdate
	}

	return result.ModifiedCount == 1, nil
}
