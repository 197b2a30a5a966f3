package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/services/access-service/internal/models"
)

var ErrControllerUnreachable = errors.New("network controller unreachable")

type Controller interface {
	Authorize(ctx context.Context, auth Authorization) (string, error)
}

type GrantStore interface {
	Create(ctx context.Context, grant *models.Grant) error
	Update(ctx context.Context, grant *models.Grant) error
	FindBySessionID(ctx context.Context, sessionID string) (*models.Grant, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type GrantServiceConfig struct {
	LockTTL          time.Duration
	AllowPlaceholder bool
}

// GrantService issues at most one network authorization per payment session.
// A repeated request for an already active session returns the stored grant
// without touching the controller.
type GrantService struct {
	controller Controller
	grants     GrantStore
	locker     Locker
	metrics    *MetricsCollector
	config     GrantServiceConfig
	log        logger.Logger
	now        func() time.Time
}

func NewGrantService(controller Controller, grants GrantStore, locker Locker, metrics *MetricsCollector, config GrantServiceConfig, log logger.Logger) *GrantService {
	if config.LockTTL <= 0 {
		config.LockTTL = 30 * time.Second
	}
	return &GrantService{
		controller: controller,
		grants:     grants,
		locker:     locker,
		metrics:    metrics,
		config:     config,
		log:        log,
		now:        time.Now,
	}
}

// Grant authorizes req's client. The bool result is true when the session had
// already been granted and nothing new was issued.
func (s *GrantService) Grant(ctx context.Context, req models.GrantRequest) (*models.Grant, bool, error) {
	req, err := normalize(req)
	if err != nil {
		s.metrics.RecordGrant("rejected")
		return nil, false, err
	}

	log := s.log.WithFields(logger.Fields{
		"session_id": req.SessionID,
		"ip":         req.IP,
		"mac":        req.MAC,
	})

	if req.IsPlaceholder() && !s.config.AllowPlaceholder {
		s.metrics.RecordGrant("rejected")
		return nil, false, models.ErrPlaceholderDenied
	}

	token, ok, err := s.locker.Acquire(ctx, req.SessionID, s.config.LockTTL)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		s.metrics.IncrementLockContention()
		return nil, false, models.ErrGrantInProgress
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), req.SessionID, token); err != nil {
			log.Warn("Failed to release grant lock", logger.Err(err))
		}
	}()

	grant, err := s.grants.FindBySessionID(ctx, req.SessionID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		grant = s.newGrant(req)
		if err := s.grants.Create(ctx, grant); err != nil {
			return nil, false, fmt.Errorf("failed to record grant: %w", err)
		}
	case err != nil:
		return nil, false, fmt.Errorf("failed to load grant: %w", err)
	default:
		if !grant.SameClient(req.IP, req.MAC) {
			log.Warn("Grant requested for a different client than the one on record",
				logger.Field{Key: "recorded_mac", Value: grant.MAC})
			s.metrics.RecordGrant("rejected")
			return nil, false, models.ErrIdentityMismatch
		}
		if grant.Status == models.GrantStatusActive {
			log.Info("Session already granted")
			s.metrics.RecordGrant("idempotent")
			return grant, true, nil
		}
	}

	return s.issue(ctx, grant, log)
}

func (s *GrantService) issue(ctx context.Context, grant *models.Grant, log logger.Logger) (*models.Grant, bool, error) {
	grant.Attempts++

	if grant.IP == models.PlaceholderAddress || grant.MAC == models.PlaceholderHardwareAddress {
		log.Warn("Simulating grant for placeholder identity; unsafe outside local testing")
		grant.Simulated = true
	} else {
		ref, err := s.controller.Authorize(ctx, Authorization{
			Username: grant.Username,
			IP:       grant.IP,
			MAC:      grant.MAC,
			Duration: time.Duration(grant.DurationSeconds) * time.Second,
			Comment:  grant.Comment,
		})
		if err != nil {
			log.Error("Controller authorization failed", logger.Err(err))
			grant.Status = models.GrantStatusFailed
			grant.LastError = err.Error()
			grant.UpdatedAt = s.now()
			if uerr := s.grants.Update(context.WithoutCancel(ctx), grant); uerr != nil {
				log.Error("Failed to record grant failure", logger.Err(uerr))
			}
			s.metrics.RecordGrant("failed")
			return nil, false, fmt.Errorf("%w: %v", models.ErrControllerFailure, err)
		}
		grant.ControllerRef = ref
	}

	now := s.now()
	expires := now.Add(time.Duration(grant.DurationSeconds) * time.Second)
	grant.Status = models.GrantStatusActive
	grant.LastError = ""
	grant.UpdatedAt = now
	grant.ExpiresAt = &expires

	if err := s.grants.Update(context.WithoutCancel(ctx), grant); err != nil {
		// the client is online either way
		log.Error("Failed to record active grant", logger.Err(err))
	}

	log.Info("Access granted", logger.Field{Key: "expires_at", Value: expires})
	s.metrics.RecordGrant("granted")
	return grant, false, nil
}

func (s *GrantService) Get(ctx context.Context, sessionID string) (*models.Grant, error) {
	grant, err := s.grants.FindBySessionID(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, models.ErrGrantNotFound
	}
	return grant, err
}

func (s *GrantService) newGrant(req models.GrantRequest) *models.Grant {
	now := s.now()
	return &models.Grant{
		SessionID:       req.SessionID,
		IP:              req.IP,
		MAC:             req.MAC,
		DurationSeconds: req.Duration,
		Comment:         req.Comment,
		Username:        Username(req.SessionID),
		Status:          models.GrantStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Username is the controller login for a session. Each session gets its own
// user so uptime limits never carry over.
func Username(sessionID string) string {
	id := strings.ReplaceAll(sessionID, "-", "")
	if len(id) > 16 {
		id = id[:16]
	}
	return "hs-" + id
}

func normalize(req models.GrantRequest) (models.GrantRequest, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return req, fmt.Errorf("%w: session_id is required", models.ErrInvalidRequest)
	}
	if req.Duration <= 0 {
		return req, fmt.Errorf("%w: duration must be positive", models.ErrInvalidRequest)
	}

	ip := net.ParseIP(strings.TrimSpace(req.IP))
	if ip == nil || ip.To4() == nil {
		return req, fmt.Errorf("%w: ip must be an IPv4 address", models.ErrInvalidRequest)
	}
	mac, err := net.ParseMAC(strings.TrimSpace(req.MAC))
	if err != nil || len(mac) != 6 {
		return req, fmt.Errorf("%w: mac must be a 48-bit hardware address", models.ErrInvalidRequest)
	}

	req.IP = ip.String()
	req.MAC = strings.ToUpper(mac.String())
	return req, nil
}
