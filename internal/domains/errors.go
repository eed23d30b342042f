package domains

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDomain      = errors.New("invalid domain")
	ErrLocalNotAllowed    = errors.New("local domains are not allowed on this plan")
	ErrPatternMismatch    = errors.New("domain does not match the allowed patterns")
	ErrDomainConflict     = errors.New("domain is already active on another license")
	ErrAlreadyActive      = errors.New("domain is already active on this license")
	ErrQuotaExceeded      = errors.New("domain limit reached")
	ErrRootDomainTaken    = errors.New("another domain with the same root is already bound")
	ErrNotBound           = errors.New("domain is not bound to this license")
	ErrUnsupportedMethod  = errors.New("unsupported verification method")
	ErrVerificationFailed = errors.New("domain ownership could not be verified")
)

// Error names the domain a policy check rejected. It unwraps to one of the
// package sentinels.
type Error struct {
	Domain string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err, e.Domain, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Domain)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(err error, domain, detail string) *Error {
	return &Error{Domain: domain, Detail: detail, Err: err}
}
