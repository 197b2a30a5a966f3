package models

import "fmt"

// PurchaseRequest is immutable once submitted. Amount is in the smallest currency unit.
type PurchaseRequest struct {
	ClientIdentity       string `json:"phone"`
	Amount               int64  `json:"amount"`
	PackageDurationHours int    `json:"duration_hours"`
	PackageLabel         string `json:"package_label"`
	// ReplacesSessionID lets a different payer on the same device take over
	// the device's live session.
	ReplacesSessionID string `json:"replaces_session_id,omitempty"`
}

func (r PurchaseRequest) DurationSeconds() int64 {
	return int64(r.PackageDurationHours) * 3600
}

func (r PurchaseRequest) Label() string {
	if r.PackageLabel != "" {
		return r.PackageLabel
	}
	return fmt.Sprintf("%d hour(s)", r.PackageDurationHours)
}

// AccountNumber is the reference the provider shows on the payer's statement.
func AccountNumber(durationHours int) string {
	return fmt.Sprintf("WIFI_%dHRS", durationHours)
}
