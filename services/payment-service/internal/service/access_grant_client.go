package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grigta/hotspot/pkg/middleware"
	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

const serviceName = "payment-service"

// TokenSigner issues the bearer token the access service expects.
type TokenSigner interface {
	GenerateServiceToken(service, role string, ttl time.Duration) (string, error)
}

type grantRequest struct {
	IP        string `json:"ip"`
	MAC       string `json:"mac"`
	Duration  int64  `json:"duration"`
	Comment   string `json:"comment"`
	SessionID string `json:"session_id"`
}

type grantResponse struct {
	Success       bool       `json:"success"`
	Message       string     `json:"message"`
	Error         string     `json:"error"`
	ExpiresAt     *time.Time `json:"expires_at"`
	Idempotent    bool       `json:"idempotent"`
	ControllerRef string     `json:"controller_ref"`
}

// GrantOutcome never carries an error: every failure is Success=false plus a Reason.
type GrantOutcome struct {
	Success       bool
	Reason        string
	ExpiresAt     time.Time
	Idempotent    bool
	ControllerRef string
}

// AccessGrantClient talks to the access service, which alone holds the
// network controller credential.
type AccessGrantClient struct {
	grantURL string
	signer   TokenSigner
	client   *http.Client
	logger   *logrus.Logger
}

func NewAccessGrantClient(accessURL string, signer TokenSigner, timeout time.Duration, logger *logrus.Logger) *AccessGrantClient {
	return &AccessGrantClient{
		grantURL: strings.TrimRight(accessURL, "/") + "/api/v1/grants",
		signer:   signer,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *AccessGrantClient) Grant(ctx context.Context, sessionID string, identity models.NetworkIdentity, durationSeconds int64, label string) GrantOutcome {
	log := c.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"ip":         identity.Address,
		"mac":        identity.HardwareAddress,
	})

	token, err := c.signer.GenerateServiceToken(serviceName, middleware.RoleAccessGranter, time.Minute)
	if err != nil {
		log.WithError(err).Error("Failed to sign access service token")
		return GrantOutcome{Reason: "access service authentication failed"}
	}

	body, err := json.Marshal(grantRequest{
		IP:        identity.Address,
		MAC:       identity.HardwareAddress,
		Duration:  durationSeconds,
		Comment:   label,
		SessionID: sessionID,
	})
	if err != nil {
		return GrantOutcome{Reason: fmt.Sprintf("failed to encode grant request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.grantURL, bytes.NewReader(body))
	if err != nil {
		return GrantOutcome{Reason: fmt.Sprintf("failed to create grant request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		log.WithError(err).Error("Access grant request failed")
		return GrantOutcome{Reason: "access service unreachable"}
	}
	defer resp.Body.Close()

	var parsed grantResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		log.WithError(err).WithField("status_code", resp.StatusCode).Error("Invalid access service response")
		return GrantOutcome{Reason: fmt.Sprintf("access service returned status %d", resp.StatusCode)}
	}

	if resp.StatusCode >= 300 || !parsed.Success {
		reason := parsed.Message
		if reason == "" {
			reason = parsed.Error
		}
		if reason == "" {
			reason = fmt.Sprintf("access service returned status %d", resp.StatusCode)
		}
		log.WithField("reason", reason).Warn("Access grant rejected")
		return GrantOutcome{Reason: reason}
	}

	outcome := GrantOutcome{
		Success:       true,
		Reason:        parsed.Message,
		Idempotent:    parsed.Idempotent,
		ControllerRef: parsed.ControllerRef,
	}
	if parsed.ExpiresAt != nil {
		outcome.ExpiresAt = *parsed.ExpiresAt
	}
	return outcome
}
