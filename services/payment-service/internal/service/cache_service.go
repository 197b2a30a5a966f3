package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grigta/hotspot/pkg/cache"
	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

// JSONCache is the subset of *cache.RedisCache the service needs.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// CacheService keeps a short-lived snapshot of each session for status lookups.
type CacheService struct {
	cache  JSONCache
	ttl    time.Duration
	logger *logrus.Logger
}

func NewCacheService(c JSONCache, ttl time.Duration, logger *logrus.Logger) *CacheService {
	return &CacheService{
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("payment:session:%s", sessionID)
}

func (s *CacheService) SetSession(ctx context.Context, session *models.PaymentSession) error {
	return s.cache.Set(ctx, sessionKey(session.SessionID), session, s.ttl)
}

// GetSession returns (nil, nil) on a cache miss.
func (s *CacheService) GetSession(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := s.cache.GetJSON(ctx, sessionKey(sessionID), &session)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}
