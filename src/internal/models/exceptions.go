package models

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrTokenInvalid      = errors.New("attendance token invalid or expired")
	ErrNoActiveToken     = errors.New("session has no active attendance token")
)

var (
	ErrAlreadyMarked          = errors.New("attendance already marked for this session")
	ErrAttendanceNotFound     = errors.New("attendance record not found")
	ErrConcurrentModification = errors.New("attendance record was modified concurrently")
	ErrInvalidAttendanceInput = errors.New("invalid attendance input")
)

var (
	ErrJobNotFound = errors.New("closure job not found")
)

var (
	ErrDatabaseConnection = errors.New("database connection error")
	ErrDatabaseQuery      = errors.New("database query error")
	ErrDatabaseInsert     = errors.New("database insert error")
	ErrDatabaseUpdate     = errors.New("database update error")
	ErrInvalidParams      = errors.New("invalid parameters")
)

var (
	ErrRedisGet    = errors.New("redis get error")
	ErrRedisSet    = errors.New("redis set error")
	ErrRedisDelete = errors.New("redis delete error")
)
