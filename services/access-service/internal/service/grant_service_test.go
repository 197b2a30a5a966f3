package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/grigta/hotspot/services/access-service/internal/models"
)

type GrantServiceTestSuite struct {
	suite.Suite
	controller *MockController
	grants     *memoryGrants
	locker     *memoryLocker
	svc        *GrantService
	now        time.Time
}

func (s *GrantServiceTestSuite) SetupTest() {
	s.controller = new(MockController)
	s.grants = newMemoryGrants()
	s.locker = newMemoryLocker()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.svc = NewGrantService(s.controller, s.grants, s.locker, NewMetricsCollector(prometheus.NewRegistry()),
		GrantServiceConfig{LockTTL: time.Minute}, newTestLogger())
	s.svc.now = func() time.Time { return s.now }
}

func request() models.GrantRequest {
	return models.GrantRequest{
		IP:        "10.5.50.23",
		MAC:       "aa:bb:cc:dd:ee:01",
		Duration:  7200,
		Comment:   "2 Hours",
		SessionID: "6f1c2a9e-0b7d-4c55-9a1e-1234567890ab",
	}
}

func (s *GrantServiceTestSuite) TestGrant_Issues() {
	s.controller.On("Authorize", mock.Anything, Authorization{
		Username: "hs-6f1c2a9e0b7d4c55",
		IP:       "10.5.50.23",
		MAC:      "AA:BB:CC:DD:EE:01",
		Duration: 2 * time.Hour,
		Comment:  "2 Hours",
	}).Return("*1A", nil).Once()

	grant, idempotent, err := s.svc.Grant(context.Background(), request())
	s.Require().NoError(err)
	s.False(idempotent)
	s.Equal(models.GrantStatusActive, grant.Status)
	s.Equal("*1A", grant.ControllerRef)
	s.Require().NotNil(grant.ExpiresAt)
	s.Equal(s.now.Add(2*time.Hour), *grant.ExpiresAt)

	stored := s.grants.get(request().SessionID)
	s.Equal(models.GrantStatusActive, stored.Status)
	s.Equal(1, stored.Attempts)
	s.Equal(1, s.locker.released)
	s.controller.AssertExpectations(s.T())
}

func (s *GrantServiceTestSuite) TestGrant_RepeatIsIdempotent() {
	s.controller.On("Authorize", mock.Anything, mock.Anything).Return("*1A", nil).Once()

	_, _, err := s.svc.Grant(context.Background(), request())
	s.Require().NoError(err)

	grant, idempotent, err := s.svc.Grant(context.Background(), request())
	s.Require().NoError(err)
	s.True(idempotent)
	s.Equal("*1A", grant.ControllerRef)
	s.controller.AssertNumberOfCalls(s.T(), "Authorize", 1)
}

func (s *GrantServiceTestSuite) TestGrant_IdentityMismatch() {
	s.controller.On("Authorize", mock.Anything, mock.Anything).Return("*1A", nil).Once()
	_, _, err := s.svc.Grant(context.Background(), request())
	s.Require().NoError(err)

	other := request()
	other.MAC = "AA:BB:CC:DD:EE:99"
	_, _, err = s.svc.Grant(context.Background(), other)
	s.ErrorIs(err, models.ErrIdentityMismatch)
	s.controller.AssertNumberOfCalls(s.T(), "Authorize", 1)
}

func (s *GrantServiceTestSuite) TestGrant_ControllerFailureThenRetry() {
	s.controller.On("Authorize", mock.Anything, mock.Anything).Return("", errors.New("controller login failed: no such user")).Once()

	_, _, err := s.svc.Grant(context.Background(), request())
	s.ErrorIs(err, models.ErrControllerFailure)

	stored := s.grants.get(request().SessionID)
	s.Equal(models.GrantStatusFailed, stored.Status)
	s.Contains(stored.LastError, "no such user")

	s.controller.On("Authorize", mock.Anything, mock.Anything).Return("*2B", nil).Once()
	grant, idempotent, err := s.svc.Grant(context.Background(), request())
	s.Require().NoError(err)
	s.False(idempotent)
	s.Equal(2, grant.Attempts)
	s.Empty(grant.LastError)
}

func (s *GrantServiceTestSuite) TestGrant_LockHeld() {
	_, ok, err := s.locker.Acquire(context.Background(), request().SessionID, time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	_, _, err = s.svc.Grant(context.Background(), request())
	s.ErrorIs(err, models.ErrGrantInProgress)
	s.controller.AssertNotCalled(s.T(), "Authorize", mock.Anything, mock.Anything)
}

func (s *GrantServiceTestSuite) TestGrant_Validation() {
	tests := []struct {
		name   string
		modify func(*models.GrantRequest)
	}{
		{"missing session", func(r *models.GrantRequest) { r.SessionID = " " }},
		{"zero duration", func(r *models.GrantRequest) { r.Duration = 0 }},
		{"bad ip", func(r *models.GrantRequest) { r.IP = "10.5.50" }},
		{"ipv6", func(r *models.GrantRequest) { r.IP = "fe80::1" }},
		{"bad mac", func(r *models.GrantRequest) { r.MAC = "not-a-mac" }},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			req := request()
			tt.modify(&req)
			_, _, err := s.svc.Grant(context.Background(), req)
			s.ErrorIs(err, models.ErrInvalidRequest)
		})
	}
	s.controller.AssertNotCalled(s.T(), "Authorize", mock.Anything, mock.Anything)
}

func (s *GrantServiceTestSuite) TestGrant_Placeholder() {
	req := request()
	req.IP = models.PlaceholderAddress
	req.MAC = models.PlaceholderHardwareAddress

	_, _, err := s.svc.Grant(context.Background(), req)
	s.ErrorIs(err, models.ErrPlaceholderDenied)

	s.svc.config.AllowPlaceholder = true
	grant, _, err := s.svc.Grant(context.Background(), req)
	s.Require().NoError(err)
	s.True(grant.Simulated)
	s.Equal(models.GrantStatusActive, grant.Status)
	s.controller.AssertNotCalled(s.T(), "Authorize", mock.Anything, mock.Anything)
}

func (s *GrantServiceTestSuite) TestGrant_StoreFailure() {
	s.grants.failOn = "create"

	_, _, err := s.svc.Grant(context.Background(), request())
	s.Error(err)
	s.controller.AssertNotCalled(s.T(), "Authorize", mock.Anything, mock.Anything)
	s.Equal(1, s.locker.released)
}

func (s *GrantServiceTestSuite) TestGet() {
	_, err := s.svc.Get(context.Background(), "missing")
	s.ErrorIs(err, models.ErrGrantNotFound)

	s.controller.On("Authorize", mock.Anything, mock.Anything).Return("*1A", nil).Once()
	_, _, err = s.svc.Grant(context.Background(), request())
	s.Require().NoError(err)

	grant, err := s.svc.Get(context.Background(), request().SessionID)
	s.Require().NoError(err)
	s.Equal("AA:BB:CC:DD:EE:01", grant.MAC)
}

func TestGrantServiceTestSuite(t *testing.T) {
	suite.Run(t, new(GrantServiceTestSuite))
}

func TestUsername(t *testing.T) {
	assert.Equal(t, "hs-6f1c2a9e0b7d4c55", Username("6f1c2a9e-0b7d-4c55-9a1e-1234567890ab"))
	assert.Equal(t, "hs-short", Username("short"))
}
