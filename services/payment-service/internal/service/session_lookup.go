package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

type SessionFinder interface {
	FindBySessionID(ctx context.Context, sessionID string) (*models.PaymentSession, error)
}

// SessionLookup reads the cached snapshot first and falls back to the store.
type SessionLookup struct {
	cache  *CacheService
	finder SessionFinder
	logger *logrus.Logger
}

func NewSessionLookup(cache *CacheService, finder SessionFinder, logger *logrus.Logger) *SessionLookup {
	return &SessionLookup{
		cache:  cache,
		finder: finder,
		logger: logger,
	}
}

func (l *SessionLookup) Get(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	if l.cache != nil {
		session, err := l.cache.GetSession(ctx, sessionID)
		if err != nil {
			l.logger.WithError(err).Warn("Session cache read failed")
		} else if session != nil {
			return session, nil
		}
	}

	session, err := l.finder.FindBySessionID(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}
