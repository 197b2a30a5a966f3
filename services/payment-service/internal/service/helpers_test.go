package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

// memoryStore enforces the same correlation token uniqueness as the Mongo index.
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]models.PaymentSession
	tokens   map[string]string
	history  []models.PaymentSession
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sessions: make(map[string]models.PaymentSession),
		tokens:   make(map[string]string),
	}
}

func (m *memoryStore) Create(ctx context.Context, session *models.PaymentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.tokens[session.CorrelationToken]; ok && owner != session.SessionID {
		return fmt.Errorf("%w: correlation_token", database.ErrDuplicate)
	}
	m.tokens[session.CorrelationToken] = session.SessionID
	m.sessions[session.SessionID] = *session
	m.history = append(m.history, *session)
	return nil
}

func (m *memoryStore) Update(ctx context.Context, session *models.PaymentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.SessionID]; !ok {
		return database.ErrNotFound
	}
	m.sessions[session.SessionID] = *session
	m.history = append(m.history, *session)
	return nil
}

func (m *memoryStore) FindBySessionID(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &s, nil
}

func (m *memoryStore) FindByCorrelationToken(ctx context.Context, token string) (*models.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.tokens[token]
	if !ok {
		return nil, database.ErrNotFound
	}
	s := m.sessions[id]
	return &s, nil
}

func (m *memoryStore) Get(sessionID string) (models.PaymentSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

func (m *memoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// History returns every version written, in order.
func (m *memoryStore) History() []models.PaymentSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PaymentSession(nil), m.history...)
}

type MockSupportNotifier struct {
	mock.Mock
}

func (m *MockSupportNotifier) NotifyGrantFailure(ctx context.Context, session *models.PaymentSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

type recordingPublisher struct {
	mu      sync.Mutex
	reports []models.StatusReport
}

func (p *recordingPublisher) PublishStatus(session *models.PaymentSession, report models.StatusReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, report)
}

func (p *recordingPublisher) Reports() []models.StatusReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.StatusReport(nil), p.reports...)
}

// drain reads reports until the channel closes or timeout passes.
func drain(ch <-chan models.StatusReport, timeout time.Duration) ([]models.StatusReport, bool) {
	var reports []models.StatusReport
	deadline := time.After(timeout)
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return reports, true
			}
			reports = append(reports, r)
		case <-deadline:
			return reports, false
		}
	}
}

// stateChanges drops per-attempt progress reports.
func stateChanges(reports []models.StatusReport) []models.SessionState {
	var states []models.SessionState
	for _, r := range reports {
		if !r.IsProgress() {
			states = append(states, r.State)
		}
	}
	return states
}

func pending() map[string]interface{} {
	return map[string]interface{}{"status": false}
}

func resultCode(status bool, code interface{}, desc string) map[string]interface{} {
	r := map[string]interface{}{"status": status, "ResultCode": code}
	if desc != "" {
		r["ResultDesc"] = desc
	}
	return r
}
