package models

import (
	"net"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	PlaceholderAddress         = "0.0.0.0"
	PlaceholderHardwareAddress = "00:00:00:00:00:00"
)

// NetworkIdentity is the address pair the network controller authorizes.
type NetworkIdentity struct {
	Address         string `bson:"address" json:"ip"`
	HardwareAddress string `bson:"hardware_address" json:"mac"`
	Placeholder     bool   `bson:"placeholder" json:"placeholder,omitempty"`
}

// PlaceholderIdentity is only acceptable for local testing.
func PlaceholderIdentity() NetworkIdentity {
	return NetworkIdentity{
		Address:         PlaceholderAddress,
		HardwareAddress: PlaceholderHardwareAddress,
		Placeholder:     true,
	}
}

// CanonicalMAC renders mac the way the controller and session keys expect:
// upper case, colon separated.
func CanonicalMAC(mac net.HardwareAddr) string {
	return strings.ToUpper(mac.String())
}

func (n NetworkIdentity) IsZero() bool {
	return n.Address == "" && n.HardwareAddress == ""
}

type PaymentStatus string

const (
	PaymentStatusInitiating             PaymentStatus = "initiating"
	PaymentStatusAwaitingProviderAction PaymentStatus = "awaiting_provider_action"
	PaymentStatusPolling                PaymentStatus = "polling"
	PaymentStatusSucceeded              PaymentStatus = "succeeded"
	PaymentStatusFailed                 PaymentStatus = "failed"
	PaymentStatusTimedOut               PaymentStatus = "timed_out"
)

// IsTerminal reports whether polling is over for this payment.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusTimedOut:
		return true
	}
	return false
}

type SessionState string

const (
	StateIdle             SessionState = "idle"
	StateInitiating       SessionState = "initiating"
	StatePolling          SessionState = "polling"
	StateGranting         SessionState = "granting"
	StateCompleted        SessionState = "completed"
	StateInitiationFailed SessionState = "initiation_failed"
	StatePaymentFailed    SessionState = "payment_failed"
	StatePaymentTimedOut  SessionState = "payment_timed_out"
	StateGrantFailed      SessionState = "grant_failed"
	StateCancelled        SessionState = "cancelled"
)

func (s SessionState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateInitiationFailed, StatePaymentFailed,
		StatePaymentTimedOut, StateGrantFailed, StateCancelled:
		return true
	}
	return false
}

// AccessGrant is issued at most once per session that reached a confirmed payment.
type AccessGrant struct {
	NetworkIdentity NetworkIdentity `bson:"network_identity" json:"network_identity"`
	GrantedAt       time.Time       `bson:"granted_at" json:"granted_at"`
	ExpiresAt       time.Time       `bson:"expires_at" json:"expires_at"`
	PackageLabel    string          `bson:"package_label" json:"package_label"`
	ControllerRef   string          `bson:"controller_ref,omitempty" json:"controller_ref,omitempty"`
}

type PaymentSession struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SessionID          string             `bson:"session_id" json:"session_id"`
	CorrelationToken   string             `bson:"correlation_token" json:"correlation_token"`
	ClientKey          string             `bson:"client_key" json:"-"`
	ClientIdentity     string             `bson:"client_identity" json:"-"`
	ClientIdentityHash string             `bson:"client_identity_hash" json:"-"`
	Encrypted          bool               `bson:"encrypted" json:"-"`
	NetworkIdentity    NetworkIdentity    `bson:"network_identity" json:"network_identity"`
	Amount             int64              `bson:"amount" json:"amount"`
	DurationHours      int                `bson:"duration_hours" json:"duration_hours"`
	PackageLabel       string             `bson:"package_label" json:"package_label"`
	PaymentStatus      PaymentStatus      `bson:"payment_status" json:"payment_status"`
	State              SessionState       `bson:"state" json:"state"`
	AttemptCount       int                `bson:"attempt_count" json:"attempt_count"`
	GrantAttempted     bool               `bson:"grant_attempted" json:"grant_attempted"`
	Grant              *AccessGrant       `bson:"grant,omitempty" json:"grant,omitempty"`
	FailureReason      string             `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	CreatedAt          time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `bson:"updated_at" json:"updated_at"`
	ConfirmedAt        *time.Time         `bson:"confirmed_at,omitempty" json:"confirmed_at,omitempty"`
	CompletedAt        *time.Time         `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// MaskedIdentity keeps the country prefix and the last four digits.
func (s *PaymentSession) MaskedIdentity() string {
	return MaskIdentity(s.ClientIdentity)
}

func MaskIdentity(identity string) string {
	if len(identity) <= 7 {
		return "****"
	}
	return identity[:4] + "****" + identity[len(identity)-4:]
}

// ConfirmationLatency is the time from session creation to confirmed payment.
func (s *PaymentSession) ConfirmationLatency() (time.Duration, bool) {
	if s.ConfirmedAt == nil {
		return 0, false
	}
	return s.ConfirmedAt.Sub(s.CreatedAt), true
}
