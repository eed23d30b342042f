// Package domain holds the wire contracts of the license API. Field names
// are the stable part of the boundary; handlers translate them to and from
// the license service types.
package domain

import "time"

// HardwareInfo identifies the machine behind an activation.
type HardwareInfo struct {
	CPUID      string `json:"cpu_id" validate:"max=255"`
	DiskID     string `json:"disk_id" validate:"max=255"`
	MACAddress string `json:"mac_address" validate:"max=64"`
	BIOSID     string `json:"bios_id,omitempty" validate:"max=255"`
}

// CreateLicenseRequest issues a new license. Omitted values fall back to the
// plan, then the product, then server configuration.
type CreateLicenseRequest struct {
	LicenseKey      string                 `json:"license_key,omitempty" validate:"omitempty,min=8,max=191"`
	ProductID       uint                   `json:"product_id" validate:"required"`
	PlanID          *uint                  `json:"plan_id,omitempty"`
	Type            string                 `json:"type,omitempty" validate:"omitempty,oneof=subscription lifetime trial"`
	Source          string                 `json:"source,omitempty" validate:"omitempty,oneof=custom envato other"`
	PurchaseCode    string                 `json:"purchase_code,omitempty" validate:"max=191"`
	PurchasedSeats  int                    `json:"purchased_seats,omitempty" validate:"min=-1"`
	ValidFrom       *time.Time             `json:"valid_from,omitempty"`
	ValidUntil      *time.Time             `json:"valid_until,omitempty"`
	TrialDays       int                    `json:"trial_days,omitempty" validate:"min=0,max=365"`
	MaxFailedChecks int                    `json:"max_failed_checks,omitempty" validate:"min=0"`
	Features        map[string]interface{} `json:"features,omitempty"`
	Restrictions    map[string]interface{} `json:"restrictions,omitempty"`
}

// ActivationRequest occupies one seat. Domain is required unless the seat
// is a machine or user seat.
type ActivationRequest struct {
	LicenseKey       string                 `json:"license_key" validate:"required,max=191"`
	DeviceIdentifier string                 `json:"device_identifier" validate:"required,device_id"`
	DeviceName       string                 `json:"device_name" validate:"required,max=191"`
	Type             string                 `json:"type,omitempty" validate:"omitempty,oneof=domain machine user"`
	HardwareInfo     HardwareInfo           `json:"hardware_info" validate:"required"`
	Domain           string                 `json:"domain" validate:"required_unless=Type machine,domain"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ValidationRequest asks whether a license may be used on domain.
type ValidationRequest struct {
	LicenseKey   string        `json:"license_key" validate:"required,max=191"`
	Domain       string        `json:"domain" validate:"required,domain"`
	HardwareInfo *HardwareInfo `json:"hardware_info,omitempty" validate:"omitempty"`
}

// CheckInRequest is the periodic heartbeat of an installation.
type CheckInRequest struct {
	LicenseKey   string        `json:"license_key" validate:"required,max=191"`
	Domain       string        `json:"domain" validate:"required,domain"`
	HardwareInfo *HardwareInfo `json:"hardware_info,omitempty" validate:"omitempty"`
}

// FailedCheckRequest reports a check-in the installation could not make.
type FailedCheckRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=191"`
	Domain     string `json:"domain" validate:"required,domain"`
	Reason     string `json:"reason,omitempty" validate:"max=255"`
}

// DeactivationRequest releases the seat identified by its activation token.
type DeactivationRequest struct {
	LicenseKey      string `json:"license_key" validate:"required,max=191"`
	ActivationToken string `json:"activation_token" validate:"required,max=64"`
	Reason          string `json:"reason,omitempty" validate:"max=255"`
}

// DomainDeactivationRequest releases the seat bound to domain. The token
// must belong to the same activation.
type DomainDeactivationRequest struct {
	LicenseKey      string `json:"license_key" validate:"required,max=191"`
	Domain          string `json:"domain" validate:"required,domain"`
	ActivationToken string `json:"activation_token" validate:"required,max=64"`
	Reason          string `json:"reason,omitempty" validate:"max=255"`
}

// BulkDeactivationRequest releases every active seat matching the filter.
// An empty filter releases all seats.
type BulkDeactivationRequest struct {
	Domain           string `json:"domain,omitempty" validate:"domain"`
	DeviceIdentifier string `json:"device_identifier,omitempty" validate:"max=191"`
	Type             string `json:"type,omitempty" validate:"omitempty,oneof=domain machine user"`
	Reason           string `json:"reason,omitempty" validate:"max=255"`
}

// RenewRequest extends a subscription. Period overrides the plan's cycle.
type RenewRequest struct {
	Period string `json:"period,omitempty" validate:"omitempty,oneof=monthly yearly"`
}

// StatusChangeRequest suspends, reinstates or cancels a license.
type StatusChangeRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// AddDomainRequest starts an ownership challenge for domain.
type AddDomainRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=191"`
	Domain     string `json:"domain" validate:"required,domain"`
	Method     string `json:"method,omitempty" validate:"omitempty,oneof=dns file"`
}

// VerifyDomainRequest checks a published ownership challenge.
type VerifyDomainRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=191"`
	Domain     string `json:"domain" validate:"required,domain"`
}
