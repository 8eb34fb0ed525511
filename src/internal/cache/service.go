package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dungpv04/be-android/src/internal/config"
	"github.com/dungpv04/be-android/src/internal/models"
)

// Service is the read-side cache for session documents and per-session
// rosters. It serves GET traffic only; token validation and every state
// transition read the store directly, which stays authoritative.
type Service interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	CacheSession(ctx context.Context, session *models.Session) error
	InvalidateSession(ctx context.Context, sessionID string) error
	GetRoster(ctx context.Context, sessionID string) ([]*models.Attendance, error)
	CacheRoster(ctx context.Context, sessionID string, entries []*models.Attendance) error
	InvalidateRoster(ctx context.Context, sessionID string) error
}

const (
	sessionKeyPattern = "session:%s"
	rosterKeyPattern  = "roster:%s"
)

type cacheService struct {
	client *redis.Client
	cfg    *config.CacheConfig
}

func NewCacheService(client *redis.Client, cfg *config.Configuration) Service {
	return &cacheService{
		client: client,
		cfg:    &cfg.Cache,
	}
}

func (c *cacheService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	key := fmt.Sprintf(sessionKeyPattern, sessionID)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Not an error, just not found
		}
		logrus.WithError(err).WithField("key", key).Error("Failed to get session from cache")
		return nil, models.ErrRedisGet
	}

	var session models.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		logrus.WithError(err).WithField("key", key).Error("Failed to unmarshal session from cache")
		return nil, models.ErrRedisGet
	}

	logrus.WithField("key", key).Debug("Session retrieved from cache")
	return &session, nil
}

func (c *cacheService) CacheSession(ctx context.Context, session *models.Session) error {
	key := fmt.Sprintf(sessionKeyPattern, session.ID.Hex())

	data, err := json.Marshal(session)
	if err != nil {
		logrus.WithError(err).Error("Failed to marshal session for cache")
		return models.ErrRedisSet
	}

	ttl := time.Duration(c.cfg.SessionExpirationMinutes) * time.Minute
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logrus.WithError(err).WithField("key", key).Error("Failed to cache session")
		return models.ErrRedisSet
	}

	return nil
}

func (c *cacheService) InvalidateSession(ctx context.Context, sessionID string) error {
	key := fmt.Sprintf(sessionKeyPattern, sessionID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		logrus.WithError(err).WithField("key", key).Error("Failed to invalidate cached session")
		return models.ErrRedisDelete
	}
	return nil
}

func (c *cacheService) GetRoster(ctx context.Context, sessionID string) ([]*models.Attendance, error) {
	key := fmt.Sprintf(rosterKeyPattern, sessionID)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		logrus.WithError(err).WithField("key", key).Error("Failed to get roster from cache")
		return nil, models.ErrRedisGet
	}

	var entries []*models.Attendance
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		logrus.WithError(err).WithField("key", key).Error("Failed to unmarshal roster from cache")
		return nil, models.ErrRedisGet
	}

	logrus.WithField("key", key).Debug("Roster retrieved from cache")
	return entries, nil
}

func (c *cacheService) CacheRoster(ctx context.Context, sessionID string, entries []*models.Attendance) error {
	key := fmt.Sprintf(rosterKeyPattern, sessionID)

	data, err := json.Marshal(entries)
	if err != nil {
		logrus.WithError(err).Error("Failed to marshal roster for cache")
		return models.ErrRedisSet
	}

	ttl := time.Duration(c.cfg.RosterExpirationMinutes) * time.Minute
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logrus.WithError(err).WithField("key", key).Error("Failed to cache roster")
		return models.ErrRedisSet
	}

	return nil
}

func (c *cacheService) InvalidateRoster(ctx context.Context, sessionID string) error {
	key := fmt.Sprintf(rosterKeyPattern, sessionID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		logrus.WithError(err).WithField("key", key).Error("Failed to invalidate cached roster")
		return models.ErrRedisDelete
	}
	return nil
}
