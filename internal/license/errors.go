package license

import (
	"context"
	"errors"
	"fmt"

	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	"github.com/CodexShaper-Devs/license-sub000/internal/hardware"
	"github.com/CodexShaper-Devs/license-sub000/internal/keys"
	"github.com/CodexShaper-Devs/license-sub000/internal/marketplace"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
	"github.com/CodexShaper-Devs/license-sub000/internal/security"
)

// Kind classifies a failure for callers that only need to know how to react.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindSecurityVerification Kind = "security_verification"
	KindPolicyViolation      Kind = "policy_violation"
	KindStatusViolation      Kind = "status_violation"
	KindInfrastructure       Kind = "infrastructure"
	KindInvalidInput         Kind = "invalid_input"
)

var (
	ErrLicenseNotFound    = errors.New("license not found")
	ErrActivationNotFound = errors.New("activation not found")
	ErrDomainNotFound     = errors.New("domain not found on this license")
	ErrProductNotFound    = errors.New("product not found")

	ErrSecurityVerification = errors.New("license security verification failed")
	ErrKeysMissing          = errors.New("key material for this license is missing")

	ErrSeatLimitExceeded   = errors.New("seat limit exceeded")
	ErrDeviceAlreadyActive = errors.New("device is already activated on this license")
	ErrDomainConflict      = domains.ErrDomainConflict
	ErrTokenMismatch       = errors.New("domain and activation token do not match")
	ErrNoActiveSeats       = errors.New("license has no active seats")
	ErrHardwareMismatch    = errors.New("hardware does not match this license")
	ErrProductMismatch     = errors.New("purchase is for a different product")
	ErrDuplicateLicense    = errors.New("license key already exists")
	ErrVerificationFailed  = domains.ErrVerificationFailed

	ErrNotEligibleForRenewal = errors.New("license is not eligible for renewal")
	ErrLicenseInactive       = errors.New("license is not active")
	ErrLicenseExpired        = errors.New("license has expired")
	ErrLicenseSuspended      = errors.New("license is suspended")
	ErrLicenseCancelled      = errors.New("license is cancelled")
	ErrNotYetValid           = errors.New("license is not yet valid")
	ErrInvalidTransition     = errors.New("status change not allowed")

	ErrInvalidInput   = errors.New("invalid input")
	ErrDomainRequired = errors.New("domain is required")
)

// Error is returned by every Service operation. Message is safe to show to
// the caller; Err keeps the cause for errors.Is and logs.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, defaulting to KindInfrastructure for
// errors that did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

func newError(kind Kind, op string, err error, format string, args ...any) *Error {
	msg := err.Error()
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// classify converts a collaborator error into an *Error. Messages of policy
// errors from the domain layer already name the domain and are kept.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		if le.Op == "" {
			le.Op = op
		}
		return le
	}

	var de *domains.Error
	switch {
	case errors.As(err, &de) && (errors.Is(err, domains.ErrInvalidDomain) || errors.Is(err, domains.ErrUnsupportedMethod)):
		return &Error{Kind: KindInvalidInput, Op: op, Message: de.Error(), Err: err, Details: map[string]any{"domain": de.Domain}}
	case errors.As(err, &de) && errors.Is(err, domains.ErrNotBound):
		return &Error{Kind: KindNotFound, Op: op, Message: de.Error(), Err: err, Details: map[string]any{"domain": de.Domain}}
	case errors.As(err, &de):
		return &Error{Kind: KindPolicyViolation, Op: op, Message: de.Error(), Err: err, Details: map[string]any{"domain": de.Domain}}

	case errors.Is(err, hardware.ErrMissingHardware):
		return &Error{Kind: KindInvalidInput, Op: op, Message: err.Error(), Err: err}
	case errors.Is(err, hardware.ErrNoSeatAvailable):
		return &Error{Kind: KindPolicyViolation, Op: op, Message: err.Error(), Err: errors.Join(ErrSeatLimitExceeded, err)}
	case errors.Is(err, hardware.ErrUnknownHardware):
		return &Error{Kind: KindPolicyViolation, Op: op, Message: err.Error(), Err: errors.Join(ErrHardwareMismatch, err)}
	case errors.Is(err, hardware.ErrStaleActivation),
		errors.Is(err, hardware.ErrChangeLimit),
		errors.Is(err, hardware.ErrTooManyAttempts):
		return &Error{Kind: KindPolicyViolation, Op: op, Message: err.Error(), Err: err}

	case errors.Is(err, marketplace.ErrInvalidCode),
		errors.Is(err, marketplace.ErrUnsupportedSource):
		return &Error{Kind: KindInvalidInput, Op: op, Message: err.Error(), Err: err}
	case errors.Is(err, marketplace.ErrPurchaseNotFound):
		return &Error{Kind: KindInvalidInput, Op: op, Message: "purchase code was not found", Err: err}
	case errors.Is(err, marketplace.ErrUnavailable):
		return &Error{Kind: KindInfrastructure, Op: op, Message: "purchase verification is unavailable", Err: err}

	case errors.Is(err, repository.ErrNoSeatAvailable):
		return &Error{Kind: KindPolicyViolation, Op: op, Message: "seat limit exceeded", Err: errors.Join(ErrSeatLimitExceeded, err)}
	case errors.Is(err, repository.ErrDuplicate):
		return &Error{Kind: KindPolicyViolation, Op: op, Message: "a concurrent request claimed the same resource", Err: err}
	case errors.Is(err, repository.ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, Message: "record not found", Err: err}

	case errors.Is(err, keys.ErrKeysNotFound):
		return &Error{Kind: KindSecurityVerification, Op: op, Message: ErrKeysMissing.Error(), Err: errors.Join(ErrKeysMissing, err)}
	case errors.Is(err, security.ErrDecryptionFailed), errors.Is(err, security.ErrMalformedCiphertext):
		return &Error{Kind: KindSecurityVerification, Op: op, Message: ErrSecurityVerification.Error(), Err: errors.Join(ErrSecurityVerification, err)}

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{Kind: KindInfrastructure, Op: op, Message: "operation timed out", Err: err}
	}
	return &Error{Kind: KindInfrastructure, Op: op, Message: "internal error", Err: err}
}
