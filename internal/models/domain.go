package models

import (
	"time"

	"gorm.io/datatypes"
)

// ValidationMethod is how domain ownership is proven.
type ValidationMethod string

const (
	ValidationDNS  ValidationMethod = "dns"
	ValidationFile ValidationMethod = "file"
)

// LicenseDomain binds a normalized domain to a license. A domain may be
// active on at most one license at a time, enforced by a partial unique index.
type LicenseDomain struct {
	ID           uint  `gorm:"primaryKey" json:"id"`
	LicenseID    uint  `gorm:"not null;index" json:"license_id"`
	ActivationID *uint `gorm:"index" json:"activation_id,omitempty"`

	Domain    string `gorm:"type:varchar(253);not null;index;uniqueIndex:idx_domain_active,where:is_active = true" json:"domain"`
	IsPrimary bool   `gorm:"not null;default:false" json:"is_primary"`
	IsActive  bool   `gorm:"not null;index" json:"is_active"`
	IsLocal   bool   `gorm:"not null;default:false" json:"is_local"`

	AllowSubdomains   bool                        `gorm:"not null;default:false" json:"allow_subdomains"`
	MaxSubdomains     int                         `gorm:"not null;default:0" json:"max_subdomains"`
	AllowedSubdomains datatypes.JSONSlice[string] `json:"allowed_subdomains,omitempty"`

	ValidationToken  string           `gorm:"type:varchar(64)" json:"-"`
	ValidationMethod ValidationMethod `gorm:"type:varchar(10)" json:"validation_method,omitempty"`
	ValidatedAt      *time.Time       `json:"validated_at,omitempty"`
	DNSRecordType    string           `gorm:"type:varchar(10)" json:"dns_record_type,omitempty"`
	DNSRecordValue   string           `gorm:"type:varchar(255)" json:"dns_record_value,omitempty"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`

	LastCheckIn  *time.Time `json:"last_check_in,omitempty"`
	NextCheckIn  *time.Time `json:"next_check_in,omitempty"`
	FailedChecks int        `gorm:"not null;default:0" json:"failed_checks"`

	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	DeactivationReason string     `gorm:"type:varchar(255)" json:"deactivation_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsVerifiedAt reports whether ownership was proven and the proof is still fresh.
func (d *LicenseDomain) IsVerifiedAt(now time.Time) bool {
	return d.ValidatedAt != nil && (d.ExpiresAt == nil || now.Before(*d.ExpiresAt))
}
