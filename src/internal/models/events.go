package models

import "time"

// AttendanceEvent is published to the events exchange whenever an
// attendance record is created or corrected.
type AttendanceEvent struct {
	EventID    string    `json:"event_id"`
	SessionID  string    `json:"session_id"`
	StudentID  string    `json:"student_id"`
	Action     string    `json:"action"`
	Status     string    `json:"status"`
	Method     string    `json:"method"`
	Confidence *float64  `json:"confidence,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionEvent is published on session lifecycle transitions.
type SessionEvent struct {
	EventID   string    `json:"event_id"`
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event action constants
const (
	ActionSessionOpened       = "session_opened"
	ActionSessionClosed       = "session_closed"
	ActionAttendanceMarked    = "attendance_marked"
	ActionAttendanceCorrected = "attendance_corrected"
)

// Routing key constants for the events exchange
const (
	RoutingKeySessionOpened    = "session.opened"
	RoutingKeySessionClosed    = "session.closed"
	RoutingKeyAttendanceMarked = "attendance.marked"
)
