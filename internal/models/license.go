// Package models defines the persisted license aggregate and its
// supporting records.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// LicenseStatus is the lifecycle state of a license.
type LicenseStatus string

const (
	StatusPending     LicenseStatus = "pending"
	StatusActive      LicenseStatus = "active"
	StatusSuspended   LicenseStatus = "suspended"
	StatusExpired     LicenseStatus = "expired"
	StatusCancelled   LicenseStatus = "cancelled"
	StatusTrial       LicenseStatus = "trial"
	StatusGracePeriod LicenseStatus = "grace_period"
)

// LicenseType is the commercial shape of a license.
type LicenseType string

const (
	TypeSubscription LicenseType = "subscription"
	TypeLifetime     LicenseType = "lifetime"
	TypeTrial        LicenseType = "trial"
)

// LicenseSource names where the purchase came from.
type LicenseSource string

const (
	SourceCustom LicenseSource = "custom"
	SourceEnvato LicenseSource = "envato"
	SourceOther  LicenseSource = "other"
)

// UnlimitedSeats marks a license without a seat cap.
const UnlimitedSeats = -1

// SecurityMetadata is sealed alongside a license and describes how it was protected.
type SecurityMetadata struct {
	Version    string    `json:"version"`
	KeyVersion string    `json:"key_version"`
	Cipher     string    `json:"cipher"`
	SealedAt   time.Time `json:"sealed_at"`
	SealedBy   string    `json:"sealed_by"`
	Nonce      string    `json:"nonce"`
}

// License is the aggregate root. Activations and domains reference it by LicenseID.
type License struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	UUID string `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`

	LicenseKey string `gorm:"type:varchar(191);uniqueIndex;not null" json:"license_key"`
	ProductID  uint   `gorm:"index;not null" json:"product_id"`
	PlanID     *uint  `gorm:"index" json:"plan_id,omitempty"`

	SealedPayload    string                               `gorm:"type:text;not null" json:"sealed_payload"`
	Signature        string                               `gorm:"type:varchar(128);not null" json:"signature"`
	EncryptionKeyID  string                               `gorm:"type:varchar(64);not null" json:"encryption_key_id"`
	AuthKeyID        string                               `gorm:"type:varchar(64);not null" json:"auth_key_id"`
	SecurityMetadata datatypes.JSONType[SecurityMetadata] `json:"security_metadata"`

	Type               LicenseType   `gorm:"type:varchar(20);not null" json:"type"`
	Source             LicenseSource `gorm:"type:varchar(20);not null;default:custom" json:"source"`
	SourcePurchaseCode string        `gorm:"type:varchar(191);index" json:"source_purchase_code,omitempty"`

	PurchasedSeats int `gorm:"not null;default:1" json:"purchased_seats"`
	ActivatedSeats int `gorm:"not null;default:0" json:"activated_seats"`

	ValidFrom         time.Time  `gorm:"not null" json:"valid_from"`
	ValidUntil        *time.Time `json:"valid_until,omitempty"`
	TrialEndsAt       *time.Time `json:"trial_ends_at,omitempty"`
	GracePeriodEndsAt *time.Time `json:"grace_period_ends_at,omitempty"`
	NextCheckIn       *time.Time `json:"next_check_in,omitempty"`
	LastCheckIn       *time.Time `json:"last_check_in,omitempty"`
	FailedChecks      int        `gorm:"not null;default:0" json:"failed_checks"`
	MaxFailedChecks   int        `gorm:"not null;default:3" json:"max_failed_checks"`
	RenewalCount      int        `gorm:"not null;default:0" json:"renewal_count"`

	RenewalReminderSent bool `gorm:"not null;default:false" json:"renewal_reminder_sent"`

	Features     datatypes.JSONMap `json:"features"`
	Restrictions datatypes.JSONMap `json:"restrictions"`

	Status LicenseStatus `gorm:"type:varchar(20);index;not null" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasUnlimitedSeats reports whether the seat cap is disabled.
func (l *License) HasUnlimitedSeats() bool {
	return l.PurchasedSeats == UnlimitedSeats
}

// AvailableSeats returns the remaining seat count, or UnlimitedSeats.
func (l *License) AvailableSeats() int {
	if l.HasUnlimitedSeats() {
		return UnlimitedSeats
	}
	if free := l.PurchasedSeats - l.ActivatedSeats; free > 0 {
		return free
	}
	return 0
}

// HasSeatAvailable reports whether one more activation fits.
func (l *License) HasSeatAvailable() bool {
	return l.HasUnlimitedSeats() || l.ActivatedSeats < l.PurchasedSeats
}

// IsExpiredAt reports whether the validity window closed before now.
// Lifetime licenses never expire.
func (l *License) IsExpiredAt(now time.Time) bool {
	if l.Type == TypeLifetime || l.ValidUntil == nil {
		return false
	}
	return now.After(*l.ValidUntil)
}

// InGracePeriodAt reports whether now falls inside the post-expiry grace window.
func (l *License) InGracePeriodAt(now time.Time) bool {
	return l.IsExpiredAt(now) && l.GracePeriodEndsAt != nil && !now.After(*l.GracePeriodEndsAt)
}

// Restriction returns a string restriction value or "".
func (l *License) Restriction(name string) string {
	if l.Restrictions == nil {
		return ""
	}
	if v, ok := l.Restrictions[name].(string); ok {
		return v
	}
	return ""
}

// Feature returns the feature value and whether it is set.
func (l *License) Feature(name string) (any, bool) {
	if l.Features == nil {
		return nil, false
	}
	v, ok := l.Features[name]
	return v, ok
}
