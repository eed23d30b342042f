package models

import (
	"time"

	"gorm.io/datatypes"
)

// BillingCycle describes how often a plan is billed.
type BillingCycle string

const (
	BillingMonthly  BillingCycle = "monthly"
	BillingYearly   BillingCycle = "yearly"
	BillingLifetime BillingCycle = "lifetime"
)

// Product is a sellable item and its verification requirements.
type Product struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"type:varchar(191);not null" json:"name"`
	Slug string `gorm:"type:varchar(191);uniqueIndex;not null" json:"slug"`

	RequiresHardwareVerification bool `gorm:"not null;default:false" json:"requires_hardware_verification"`
	RequiresDomainVerification   bool `gorm:"not null;default:false" json:"requires_domain_verification"`
	CheckInIntervalHours         int  `gorm:"not null;default:24" json:"check_in_interval_hours"`
	GracePeriodDays              int  `gorm:"not null;default:7" json:"grace_period_days"`
	MaxHardwareChanges           int  `gorm:"not null;default:0" json:"max_hardware_changes"`

	EnvatoItemID string            `gorm:"type:varchar(64)" json:"envato_item_id,omitempty"`
	Requirements datatypes.JSONMap `json:"requirements,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckInInterval returns the product's check-in cadence, or fallback when unset.
func (p *Product) CheckInInterval(fallback time.Duration) time.Duration {
	if p == nil || p.CheckInIntervalHours <= 0 {
		return fallback
	}
	return time.Duration(p.CheckInIntervalHours) * time.Hour
}

// LicensePlan carries the domain and seat policy attached to a license.
type LicensePlan struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	ProductID uint   `gorm:"index" json:"product_id"`
	Name      string `gorm:"type:varchar(191);not null" json:"name"`
	Slug      string `gorm:"type:varchar(191);uniqueIndex;not null" json:"slug"`

	BillingCycle BillingCycle `gorm:"type:varchar(20);not null" json:"billing_cycle"`
	DurationDays int          `gorm:"not null;default:0" json:"duration_days"`
	MinSeats     int          `gorm:"not null;default:1" json:"min_seats"`
	MaxSeats     int          `gorm:"not null;default:1" json:"max_seats"`

	AllowLocalDomains bool                        `gorm:"not null;default:false" json:"allow_local_domains"`
	AllowSubdomains   bool                        `gorm:"not null;default:false" json:"allow_subdomains"`
	SubdomainsPerSeat int                         `gorm:"not null;default:0" json:"subdomains_per_seat"`
	MaxDomains        int                         `gorm:"not null;default:0" json:"max_domains"`
	DomainPatterns    datatypes.JSONSlice[string] `json:"domain_patterns,omitempty"`
	TrialDays         int                         `gorm:"not null;default:0" json:"trial_days"`
	GracePeriodDays   int                         `gorm:"not null;default:0" json:"grace_period_days"`
	MaxFailedChecks   int                         `gorm:"not null;default:0" json:"max_failed_checks"`
	Features          datatypes.JSONMap           `json:"features,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DomainQuota returns how many production domains a license with seats
// purchased seats may keep active, or UnlimitedSeats.
func (p *LicensePlan) DomainQuota(seats int) int {
	if seats == UnlimitedSeats {
		if p != nil && p.MaxDomains > 0 {
			return p.MaxDomains
		}
		return UnlimitedSeats
	}
	perSeat := 1
	if p != nil && p.SubdomainsPerSeat > 0 {
		perSeat = p.SubdomainsPerSeat
	}
	quota := seats * perSeat
	if p != nil && p.MaxDomains > 0 && p.MaxDomains < quota {
		quota = p.MaxDomains
	}
	return quota
}

// Duration returns the validity period for one billing cycle, zero for lifetime.
func (p *LicensePlan) Duration() time.Duration {
	if p.DurationDays > 0 {
		return time.Duration(p.DurationDays) * 24 * time.Hour
	}
	switch p.BillingCycle {
	case BillingMonthly:
		return 30 * 24 * time.Hour
	case BillingYearly:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}
