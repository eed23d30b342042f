package license

import (
	"time"

	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

// transitions lists the stored status changes an operation may make.
// Expiry and grace are derived from dates by EffectiveStatus and persisted
// when observed.
var transitions = map[models.LicenseStatus][]models.LicenseStatus{
	models.StatusPending:     {models.StatusActive, models.StatusTrial, models.StatusSuspended, models.StatusCancelled, models.StatusExpired},
	models.StatusTrial:       {models.StatusActive, models.StatusSuspended, models.StatusCancelled, models.StatusExpired},
	models.StatusActive:      {models.StatusGracePeriod, models.StatusExpired, models.StatusSuspended, models.StatusCancelled},
	models.StatusGracePeriod: {models.StatusActive, models.StatusExpired, models.StatusSuspended, models.StatusCancelled},
	models.StatusSuspended:   {models.StatusActive, models.StatusCancelled},
	models.StatusExpired:     {models.StatusCancelled},
	models.StatusCancelled:   nil,
}

// CanTransition reports whether a license may move from one stored status to another.
func CanTransition(from, to models.LicenseStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EffectiveStatus derives the status a license has at now from its stored
// status and its validity dates. A pending license never enters grace: it
// stays pending until the grace window closes and then expires.
func EffectiveStatus(lic *models.License, now time.Time) models.LicenseStatus {
	switch lic.Status {
	case models.StatusSuspended, models.StatusCancelled, models.StatusExpired:
		return lic.Status
	}

	if lic.Type == models.TypeTrial && lic.TrialEndsAt != nil && now.After(*lic.TrialEndsAt) {
		return models.StatusExpired
	}
	if lic.IsExpiredAt(now) {
		if lic.InGracePeriodAt(now) {
			if lic.Status == models.StatusPending {
				return models.StatusPending
			}
			return models.StatusGracePeriod
		}
		return models.StatusExpired
	}
	if lic.Status == models.StatusGracePeriod {
		return models.StatusActive
	}
	return lic.Status
}

// checkUsable rejects licenses that may not take activations or check-ins.
// Pending licenses are usable once valid_from has passed.
func checkUsable(op string, lic *models.License, now time.Time) error {
	switch EffectiveStatus(lic, now) {
	case models.StatusActive, models.StatusTrial, models.StatusGracePeriod:
		return nil
	case models.StatusPending:
		if now.Before(lic.ValidFrom) {
			return newError(KindStatusViolation, op, ErrNotYetValid,
				"license is not valid until %s", lic.ValidFrom.UTC().Format(time.RFC3339))
		}
		return nil
	case models.StatusSuspended:
		return newError(KindStatusViolation, op, ErrLicenseSuspended, "")
	case models.StatusCancelled:
		return newError(KindStatusViolation, op, ErrLicenseCancelled, "")
	case models.StatusExpired:
		return newError(KindStatusViolation, op, ErrLicenseExpired, "")
	}
	return newError(KindStatusViolation, op, ErrLicenseInactive, "")
}

// CheckRenewal reports why lic cannot be renewed at now, or nil.
// Eligibility follows the effective status, so a lapsed subscription is
// judged by the renewal window alone whether or not its expiry was persisted.
func CheckRenewal(lic *models.License, now time.Time, before, after time.Duration) error {
	const op = "renew"
	if lic.Type != models.TypeSubscription {
		return newError(KindPolicyViolation, op, ErrNotEligibleForRenewal,
			"license is not eligible for renewal: %s licenses cannot be renewed", lic.Type)
	}
	switch status := EffectiveStatus(lic, now); status {
	case models.StatusSuspended, models.StatusCancelled, models.StatusTrial:
		return newError(KindPolicyViolation, op, ErrNotEligibleForRenewal,
			"license is not eligible for renewal: status is %s", status)
	}
	if lic.ValidUntil == nil {
		return newError(KindPolicyViolation, op, ErrNotEligibleForRenewal,
			"license is not eligible for renewal: it does not expire")
	}

	opens := lic.ValidUntil.Add(-before)
	closes := lic.ValidUntil.Add(after)
	if now.Before(opens) || now.After(closes) {
		return newError(KindPolicyViolation, op, ErrNotEligibleForRenewal,
			"license is not eligible for renewal: renewal window is %s to %s",
			opens.UTC().Format(time.RFC3339), closes.UTC().Format(time.RFC3339))
	}
	return nil
}

// renewedStatus is the stored status after a successful renewal. Lapsed
// licenses return to active, or to pending when nothing was ever activated.
func renewedStatus(lic *models.License) models.LicenseStatus {
	switch lic.Status {
	case models.StatusGracePeriod:
		return models.StatusActive
	case models.StatusExpired:
		if lic.ActivatedSeats > 0 {
			return models.StatusActive
		}
		return models.StatusPending
	}
	return lic.Status
}

// renewedUntil extends from the current end date while it is in the future
// and from now otherwise. A lifetime cycle returns nil.
func renewedUntil(lic *models.License, cycle models.BillingCycle, durationDays int, now time.Time) *time.Time {
	base := now
	if lic.ValidUntil != nil && lic.ValidUntil.After(now) {
		base = *lic.ValidUntil
	}

	var until time.Time
	switch {
	case cycle == models.BillingLifetime:
		return nil
	case durationDays > 0:
		until = base.AddDate(0, 0, durationDays)
	case cycle == models.BillingMonthly:
		until = base.AddDate(0, 1, 0)
	default:
		until = base.AddDate(1, 0, 0)
	}
	return &until
}
