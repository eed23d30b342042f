package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventType names an audited lifecycle event.
type EventType string

const (
	EventCreated             EventType = "created"
	EventActivated           EventType = "activated"
	EventDeactivated         EventType = "deactivated"
	EventDomainDeactivated   EventType = "domain_deactivated"
	EventBulkDeactivated     EventType = "bulk_deactivated"
	EventFullyDeactivated    EventType = "fully_deactivated"
	EventValidated           EventType = "validated"
	EventValidationFailed    EventType = "validation_failed"
	EventCheckedIn           EventType = "checked_in"
	EventRenewed             EventType = "renewed"
	EventSuspended           EventType = "suspended"
	EventReinstated          EventType = "reinstated"
	EventCancelled           EventType = "cancelled"
	EventExpired             EventType = "expired"
	EventGracePeriodStarted  EventType = "grace_period_started"
	EventDomainAdded         EventType = "domain_added"
	EventDomainVerified      EventType = "domain_verified"
	EventDomainVerifyFailed  EventType = "domain_verification_failed"
	EventCheckFailed         EventType = "check_failed"
	EventHardwareMismatch    EventType = "hardware_mismatch"
	EventSecurityCheckFailed EventType = "security_check_failed"
)

// ErrEventImmutable is returned when something tries to change a stored event.
var ErrEventImmutable = errors.New("license events are append-only")

// LicenseEvent is an append-only audit record.
type LicenseEvent struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	LicenseID uint              `gorm:"not null;index" json:"license_id"`
	EventType EventType         `gorm:"type:varchar(40);not null;index" json:"event_type"`
	EventData datatypes.JSONMap `json:"event_data,omitempty"`
	Actor     string            `gorm:"type:varchar(191)" json:"actor"`
	IPAddress string            `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	UserAgent string            `gorm:"type:varchar(255)" json:"user_agent,omitempty"`
	RequestID string            `gorm:"type:varchar(64)" json:"request_id,omitempty"`
	CreatedAt time.Time         `gorm:"not null;index" json:"created_at"`
}

func (e *LicenseEvent) BeforeUpdate(*gorm.DB) error { return ErrEventImmutable }

func (e *LicenseEvent) BeforeDelete(*gorm.DB) error { return ErrEventImmutable }

// All returns every model for schema migration.
func All() []any {
	return []any{
		&Product{},
		&LicensePlan{},
		&License{},
		&LicenseActivation{},
		&LicenseDomain{},
		&LicenseEvent{},
	}
}
