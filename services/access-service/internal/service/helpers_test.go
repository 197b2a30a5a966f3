package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/services/access-service/internal/models"
)

func newTestLogger() logger.Logger {
	return logger.FromLogrus(logger.NewLogrus("debug", "json", io.Discard))
}

type MockController struct {
	mock.Mock
}

func (m *MockController) Authorize(ctx context.Context, auth Authorization) (string, error) {
	args := m.Called(ctx, auth)
	return args.String(0), args.Error(1)
}

type memoryGrants struct {
	mu     sync.Mutex
	grants map[string]models.Grant
	failOn string
}

func newMemoryGrants() *memoryGrants {
	return &memoryGrants{grants: make(map[string]models.Grant)}
}

func (m *memoryGrants) Create(_ context.Context, g *models.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "create" {
		return database.ErrConnection
	}
	if _, ok := m.grants[g.SessionID]; ok {
		return fmt.Errorf("%w: session_id", database.ErrDuplicate)
	}
	m.grants[g.SessionID] = *g
	return nil
}

func (m *memoryGrants) Update(_ context.Context, g *models.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[g.SessionID]; !ok {
		return database.ErrNotFound
	}
	m.grants[g.SessionID] = *g
	return nil
}

func (m *memoryGrants) FindBySessionID(_ context.Context, id string) (*models.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &g, nil
}

func (m *memoryGrants) get(id string) models.Grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[id]
}

type memoryLocker struct {
	mu       sync.Mutex
	held     map[string]string
	next     int
	released int
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: make(map[string]string)}
}

func (l *memoryLocker) Acquire(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.next++
	token := fmt.Sprintf("t-%d", l.next)
	l.held[key] = token
	return token, true, nil
}

func (l *memoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		l.released++
	}
	return nil
}
