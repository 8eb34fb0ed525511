package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Closure job states
const (
	JobStatePending   = "pending"
	JobStateFired     = "fired"
	JobStateCancelled = "cancelled"
)

// ClosureJob is the durable obligation to close a session at or after its
// planned end. Jobs survive process restarts; the sweep loop picks up any
// pending job whose fire_at has passed.
type ClosureJob struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SessionID string             `json:"sessionId" bson:"session_id"`
	FireAt    time.Time          `json:"fireAt" bson:"fire_at"`
	State     string             `json:"state" bson:"state"`
	Attempts  int                `json:"attempts" bson:"attempts"`
	LastError string             `json:"lastError,omitempty" bson:"last_error,omitempty"`
	FiredAt   *time.Time         `json:"firedAt,omitempty" bson:"fired_at,omitempty"`
	CreatedAt time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time          `json:"updatedAt" bson:"updated_at"`
}
