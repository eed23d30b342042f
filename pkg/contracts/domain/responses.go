package domain

import "time"

// Seats reports seat usage. Total and Remaining are the string "unlimited"
// for licenses without a cap.
type Seats struct {
	Total     interface{} `json:"total"`
	Activated int         `json:"activated"`
	Remaining interface{} `json:"remaining"`
}

// ActivationResponse is returned after a seat was occupied. The token is
// needed to release the seat later.
type ActivationResponse struct {
	ActivationID    uint       `json:"activation_id"`
	ActivationToken string     `json:"activation_token"`
	Domain          string     `json:"domain,omitempty"`
	Status          string     `json:"status"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	NextCheckIn     *time.Time `json:"next_check_in,omitempty"`
	Seats           Seats      `json:"seats"`
}

// ValidationResponse is returned for both accepted and refused validations.
// ErrorType is set only when Valid is false.
type ValidationResponse struct {
	Valid             bool                   `json:"valid"`
	Status            string                 `json:"status"`
	Type              string                 `json:"type,omitempty"`
	Source            string                 `json:"source,omitempty"`
	Features          map[string]interface{} `json:"features,omitempty"`
	ExpiresAt         *time.Time             `json:"expires_at,omitempty"`
	GracePeriodEndsAt *time.Time             `json:"grace_period_ends_at,omitempty"`
	NextCheckIn       *time.Time             `json:"next_check_in,omitempty"`
	Domain            string                 `json:"domain,omitempty"`
	Message           string                 `json:"message,omitempty"`
	ErrorType         string                 `json:"error_type,omitempty"`
}

// CheckInResponse confirms a heartbeat and schedules the next one.
type CheckInResponse struct {
	Status      string    `json:"status"`
	Domain      string    `json:"domain"`
	LastCheckIn time.Time `json:"last_check_in"`
	NextCheckIn time.Time `json:"next_check_in"`
}

// DeactivationResponse reports how many seats were released.
type DeactivationResponse struct {
	Deactivated int   `json:"deactivated,omitempty"`
	Seats       Seats `json:"seats"`
}

// LicenseResponse is the administrative view of a license. Sealed payload
// and signature never leave the server.
type LicenseResponse struct {
	UUID              string                 `json:"uuid"`
	LicenseKey        string                 `json:"license_key"`
	ProductID         uint                   `json:"product_id"`
	PlanID            *uint                  `json:"plan_id,omitempty"`
	Type              string                 `json:"type"`
	Source            string                 `json:"source"`
	Status            string                 `json:"status"`
	Seats             Seats                  `json:"seats"`
	ValidFrom         time.Time              `json:"valid_from"`
	ValidUntil        *time.Time             `json:"valid_until,omitempty"`
	TrialEndsAt       *time.Time             `json:"trial_ends_at,omitempty"`
	GracePeriodEndsAt *time.Time             `json:"grace_period_ends_at,omitempty"`
	NextCheckIn       *time.Time             `json:"next_check_in,omitempty"`
	LastCheckIn       *time.Time             `json:"last_check_in,omitempty"`
	FailedChecks      int                    `json:"failed_checks"`
	RenewalCount      int                    `json:"renewal_count"`
	Features          map[string]interface{} `json:"features,omitempty"`
	Restrictions      map[string]interface{} `json:"restrictions,omitempty"`
	Activations       []Activation           `json:"activations,omitempty"`
	Domains           []Domain               `json:"domains,omitempty"`
	Payload           map[string]interface{} `json:"payload,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Activation is one seat in the administrative view.
type Activation struct {
	ID                 uint       `json:"id"`
	Type               string     `json:"type"`
	DeviceIdentifier   string     `json:"device_identifier"`
	DeviceName         string     `json:"device_name,omitempty"`
	IsActive           bool       `json:"is_active"`
	ActivatedAt        time.Time  `json:"activated_at"`
	LastCheckIn        *time.Time `json:"last_check_in,omitempty"`
	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	DeactivationReason string     `json:"deactivation_reason,omitempty"`
}

// Domain is one domain binding.
type Domain struct {
	Domain             string     `json:"domain"`
	IsActive           bool       `json:"is_active"`
	IsLocal            bool       `json:"is_local"`
	IsPrimary          bool       `json:"is_primary"`
	ValidationMethod   string     `json:"validation_method,omitempty"`
	ValidatedAt        *time.Time `json:"validated_at,omitempty"`
	LastCheckIn        *time.Time `json:"last_check_in,omitempty"`
	NextCheckIn        *time.Time `json:"next_check_in,omitempty"`
	FailedChecks       int        `json:"failed_checks"`
	DeactivationReason string     `json:"deactivation_reason,omitempty"`
}

// DomainChallengeResponse tells the customer what to publish.
type DomainChallengeResponse struct {
	Domain      Domain `json:"domain"`
	Method      string `json:"method"`
	RecordType  string `json:"record_type,omitempty"`
	RecordName  string `json:"record_name,omitempty"`
	RecordValue string `json:"record_value,omitempty"`
	FileURL     string `json:"file_url,omitempty"`
	FileContent string `json:"file_content,omitempty"`
}

// RefreshResponse summarizes a re-verification pass.
type RefreshResponse struct {
	Checked     int      `json:"checked"`
	Verified    []string `json:"verified"`
	Failed      []string `json:"failed"`
	Deactivated []string `json:"deactivated"`
}

// Event is one audit log entry.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Actor     string                 `json:"actor"`
	IPAddress string                 `json:"ip_address,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
