package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Session status constants. A session starts Closed, is opened by an
// explicit teacher action and ends Closed for good.
const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

// Session is one scheduled class meeting during which attendance can be
// taken. Status and the current token fields are mutated only through
// conditional updates in the session repository.
type Session struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ClassID      string             `json:"classId" bson:"class_id"`
	Title        string             `json:"title,omitempty" bson:"title,omitempty"`
	PlannedStart time.Time          `json:"plannedStart" bson:"planned_start"`
	PlannedEnd   time.Time          `json:"plannedEnd" bson:"planned_end"`
	Status       string             `json:"status" bson:"status"`
	TokenValue   *string            `json:"-" bson:"current_token_value,omitempty"`
	TokenExpiry  *time.Time         `json:"-" bson:"current_token_expiry,omitempty"`
	ClosedAt     *time.Time         `json:"closedAt,omitempty" bson:"closed_at,omitempty"`
	CreatedBy    string             `json:"createdBy" bson:"created_by"`
	CreatedAt    time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updated_at"`
}

// IsOpen reports whether attendance intake is currently allowed.
func (s *Session) IsOpen() bool {
	return s.Status == SessionStatusOpen
}

// HasLiveToken reports whether the session carries a token that has not
// expired at the given instant.
func (s *Session) HasLiveToken(now time.Time) bool {
	return s.TokenValue != nil && s.TokenExpiry != nil && !now.After(*s.TokenExpiry)
}

// Token is an issued attendance token. The stored session row stays
// authoritative; the value is only ever compared for equality.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}
