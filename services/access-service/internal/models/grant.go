package models

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	PlaceholderAddress         = "0.0.0.0"
	PlaceholderHardwareAddress = "00:00:00:00:00:00"
)

var (
	ErrInvalidRequest    = errors.New("invalid grant request")
	ErrGrantNotFound     = errors.New("grant not found")
	ErrIdentityMismatch  = errors.New("session already granted to a different client")
	ErrGrantInProgress   = errors.New("grant for this session is already in progress")
	ErrPlaceholderDenied = errors.New("placeholder identity is not allowed")
	ErrControllerFailure = errors.New("network controller rejected the grant")
)

type GrantStatus string

const (
	GrantStatusPending GrantStatus = "pending"
	GrantStatusActive  GrantStatus = "active"
	GrantStatusFailed  GrantStatus = "failed"
)

// GrantRequest is what the payment service sends once a payment is confirmed.
// Duration is in seconds.
type GrantRequest struct {
	IP        string `json:"ip"`
	MAC       string `json:"mac"`
	Duration  int64  `json:"duration"`
	Comment   string `json:"comment"`
	SessionID string `json:"session_id"`
}

func (r GrantRequest) IsPlaceholder() bool {
	return r.IP == PlaceholderAddress || r.MAC == PlaceholderHardwareAddress
}

// Grant is the record of one session's network authorization. There is at
// most one per session id.
type Grant struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SessionID       string             `bson:"session_id" json:"session_id"`
	IP              string             `bson:"ip" json:"ip"`
	MAC             string             `bson:"mac" json:"mac"`
	DurationSeconds int64              `bson:"duration_seconds" json:"duration_seconds"`
	Comment         string             `bson:"comment" json:"comment"`
	Username        string             `bson:"username" json:"username"`
	Status          GrantStatus        `bson:"status" json:"status"`
	ControllerRef   string             `bson:"controller_ref,omitempty" json:"controller_ref,omitempty"`
	Attempts        int                `bson:"attempts" json:"attempts"`
	LastError       string             `bson:"last_error,omitempty" json:"last_error,omitempty"`
	Simulated       bool               `bson:"simulated,omitempty" json:"simulated,omitempty"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
	ExpiresAt       *time.Time         `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// SameClient reports whether req names the client this grant was issued to.
func (g *Grant) SameClient(ip, mac string) bool {
	return g.IP == ip && g.MAC == mac
}

type GrantResponse struct {
	Success       bool       `json:"success"`
	Message       string     `json:"message,omitempty"`
	Error         string     `json:"error,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Idempotent    bool       `json:"idempotent,omitempty"`
	ControllerRef string     `json:"controller_ref,omitempty"`
}
