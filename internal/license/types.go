package license

import (
	"encoding/json"
	"time"

	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/security"
)

// CreateRequest describes a license to issue. Zero values fall back to the
// plan, then the product, then configuration.
type CreateRequest struct {
	LicenseKey      string
	ProductID       uint
	PlanID          *uint
	Type            models.LicenseType
	Source          models.LicenseSource
	PurchaseCode    string
	PurchasedSeats  int
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	TrialDays       int
	MaxFailedChecks int
	Features        map[string]any
	Restrictions    map[string]any
}

// RenewRequest optionally overrides the plan's billing cycle.
type RenewRequest struct {
	Period models.BillingCycle
}

// ActivationRequest is one device or domain asking for a seat.
type ActivationRequest struct {
	DeviceIdentifier string
	DeviceName       string
	Type             models.ActivationType
	HardwareInfo     security.HardwareInfo
	Domain           string
	IPAddress        string
	UserAgent        string
	Metadata         map[string]any
}

// SeatSummary reports seat usage. Remaining is "unlimited" on the wire
// for licenses without a cap.
type SeatSummary struct {
	Total     int
	Activated int
	Remaining int
	Unlimited bool
}

func (s SeatSummary) MarshalJSON() ([]byte, error) {
	out := struct {
		Total     any `json:"total"`
		Activated int `json:"activated"`
		Remaining any `json:"remaining"`
	}{Total: s.Total, Activated: s.Activated, Remaining: s.Remaining}
	if s.Unlimited {
		out.Total = "unlimited"
		out.Remaining = "unlimited"
	}
	return json.Marshal(out)
}

func seatSummary(lic *models.License) SeatSummary {
	return SeatSummary{
		Total:     lic.PurchasedSeats,
		Activated: lic.ActivatedSeats,
		Remaining: lic.AvailableSeats(),
		Unlimited: lic.HasUnlimitedSeats(),
	}
}

// ActivationResult is returned by ActivateLicense.
type ActivationResult struct {
	ActivationID    uint
	ActivationToken string
	Domain          string
	Status          models.LicenseStatus
	ExpiresAt       *time.Time
	NextCheckIn     *time.Time
	Seats           SeatSummary
}

// BulkFilter selects activations for BulkDeactivate. Empty fields match all.
type BulkFilter struct {
	Domain           string
	DeviceIdentifier string
	Type             models.ActivationType
	Reason           string
}

// ValidationRequest carries the optional context of a validation.
type ValidationRequest struct {
	Domain       string
	HardwareInfo security.HardwareInfo
	IPAddress    string
	UserAgent    string
}

// ValidationResult is the outcome of ValidateLicense. A result with Valid
// false is accompanied by an error explaining why.
type ValidationResult struct {
	Valid             bool
	Status            models.LicenseStatus
	Type              models.LicenseType
	Source            models.LicenseSource
	Features          map[string]any
	ExpiresAt         *time.Time
	GracePeriodEndsAt *time.Time
	NextCheckIn       *time.Time
	Domain            string
	Reason            string
}

// CheckInRequest identifies the heartbeat's domain.
type CheckInRequest struct {
	Domain       string
	HardwareInfo security.HardwareInfo
}

// CheckInResult is returned by CheckIn.
type CheckInResult struct {
	Status      models.LicenseStatus
	Domain      string
	LastCheckIn time.Time
	NextCheckIn time.Time
}

// DomainChallenge is what a customer must publish to prove ownership.
type DomainChallenge struct {
	Domain    *models.LicenseDomain
	Challenge domains.Challenge
}

// RefreshReport summarizes a RefreshDomainVerification run.
type RefreshReport struct {
	Checked     int
	Verified    []string
	Failed      []string
	Deactivated []string
}

// Details is the administrative view of a license.
type Details struct {
	License     *models.License
	Status      models.LicenseStatus
	Seats       SeatSummary
	Activations []models.LicenseActivation
	Domains     []models.LicenseDomain
	Payload     map[string]any
}
