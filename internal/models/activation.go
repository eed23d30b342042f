package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/CodexShaper-Devs/license-sub000/internal/security"
)

// ActivationType is the kind of seat an activation consumes.
type ActivationType string

const (
	ActivationDomain  ActivationType = "domain"
	ActivationMachine ActivationType = "machine"
	ActivationUser    ActivationType = "user"
)

// LicenseActivation is one consumed seat. Rows are deactivated, never deleted.
// The partial unique index allows at most one active row per (license, device).
type LicenseActivation struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	LicenseID uint `gorm:"not null;index;uniqueIndex:idx_activation_active_device,where:is_active = true" json:"license_id"`

	ActivationToken  string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"activation_token"`
	Type             ActivationType `gorm:"type:varchar(20);not null" json:"type"`
	DeviceIdentifier string         `gorm:"type:varchar(191);not null;uniqueIndex:idx_activation_active_device,where:is_active = true" json:"device_identifier"`
	DeviceName       string         `gorm:"type:varchar(191)" json:"device_name,omitempty"`

	HardwareHash string                                    `gorm:"type:varchar(64);index" json:"hardware_hash,omitempty"`
	HardwareInfo datatypes.JSONType[security.HardwareInfo] `json:"hardware_info"`

	IPAddress string `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	UserAgent string `gorm:"type:varchar(255)" json:"user_agent,omitempty"`

	IsActive     bool       `gorm:"not null;index" json:"is_active"`
	ActivatedAt  time.Time  `gorm:"not null" json:"activated_at"`
	LastCheckIn  *time.Time `json:"last_check_in,omitempty"`
	NextCheckIn  *time.Time `json:"next_check_in,omitempty"`
	FailedChecks int        `gorm:"not null;default:0" json:"failed_checks"`

	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	DeactivatedBy      string     `gorm:"type:varchar(191)" json:"deactivated_by,omitempty"`
	DeactivationReason string     `gorm:"type:varchar(255)" json:"deactivation_reason,omitempty"`

	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VerifyHardware reports whether presented is close enough to the
// descriptor recorded at activation time.
func (a *LicenseActivation) VerifyHardware(presented security.HardwareInfo, threshold float64) bool {
	stored := a.HardwareInfo.Data()
	if stored.IsEmpty() {
		return security.HardwareHash(presented) == a.HardwareHash
	}
	return security.HardwareSimilarity(stored, presented) >= threshold
}

// IsCheckInRecent reports whether the last check-in happened within window of now.
func (a *LicenseActivation) IsCheckInRecent(now time.Time, window time.Duration) bool {
	last := a.ActivatedAt
	if a.LastCheckIn != nil {
		last = *a.LastCheckIn
	}
	return now.Sub(last) <= window
}
