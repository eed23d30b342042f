// Package license implements the license engine: issuing and sealing
// licenses, seat-limited activation of machines and domains, validation,
// periodic check-ins, renewal and the status lifecycle.
//
// Every operation resolves the license by key and verifies its security
// envelope before doing anything else. State changes run inside a single
// repository transaction that also appends the audit event, so a failed
// operation leaves neither partial rows nor a misleading audit trail.
//
// Errors returned by Service are *Error values whose Kind tells transport
// layers how to respond:
//
//	res, err := svc.ActivateLicense(ctx, key, license.ActivationRequest{Domain: "shop.example.com"})
//	switch license.KindOf(err) {
//	case license.KindPolicyViolation:
//		// seat limit, domain conflict, duplicate device
//	case license.KindStatusViolation:
//		// suspended, cancelled or expired
//	}
package license
