package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Attendance status constants
const (
	AttendanceStatusPresent = "present"
	AttendanceStatusLate    = "late"
	AttendanceStatusAbsent  = "absent"
)

// Attendance method constants
const (
	AttendanceMethodQRToken = "qr_token"
	AttendanceMethodManual  = "manual"
)

// Attendance is one student's record for one session. The collection
// carries a unique index on (session_id, student_id); the first accepted
// submission wins and later ones are rejected, never overwritten.
type Attendance struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SessionID  string             `json:"sessionId" bson:"session_id"`
	StudentID  string             `json:"studentId" bson:"student_id"`
	Status     string             `json:"status" bson:"status"`
	Method     string             `json:"method" bson:"method"`
	MarkedAt   time.Time          `json:"markedAt" bson:"marked_at"`
	MarkedBy   string             `json:"markedBy,omitempty" bson:"marked_by,omitempty"`
	Confidence *float64           `json:"confidence,omitempty" bson:"confidence,omitempty"`
	IPAddress  string             `json:"ipAddress,omitempty" bson:"ip_address,omitempty"`
	UserAgent  string             `json:"userAgent,omitempty" bson:"user_agent,omitempty"`
	Note       string             `json:"note,omitempty" bson:"note,omitempty"`
	Version    int64              `json:"version" bson:"version"`
	CreatedAt  time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt  time.Time          `json:"updatedAt" bson:"updated_at"`
}

// IsValidAttendanceStatus validates a caller-supplied status value.
func IsValidAttendanceStatus(status string) bool {
	switch status {
	case AttendanceStatusPresent, AttendanceStatusLate, AttendanceStatusAbsent:
		return true
	}
	return false
}
