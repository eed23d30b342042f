package license

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	"github.com/CodexShaper-Devs/license-sub000/internal/hardware"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
)

// ValidateLicense reports whether a license may be used right now, for the
// given domain and hardware when supplied. A refused validation is audited
// and returns a result with Valid false along with the reason as an error.
func (s *Service) ValidateLicense(ctx context.Context, key string, req ValidationRequest) (*ValidationResult, error) {
	const op = "validate"
	var result *ValidationResult
	err := s.run(ctx, op, key, func(ctx context.Context, st *opState) error {
		lic, err := s.resolve(ctx, op, key, st, VerificationContext{Domain: req.Domain, IPAddress: req.IPAddress})
		if err != nil {
			return err
		}

		var refused error
		err = s.repo.WithinTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
			lic, err := tx.FindLicenseByID(ctx, lic.ID)
			if err != nil {
				return err
			}
			st.lic = lic
			product, plan, err := s.policy(ctx, tx, lic)
			if err != nil {
				return err
			}

			result, refused = s.validate(ctx, tx, lic, product, plan, req)
			if refused == nil {
				return s.logEvent(ctx, tx, lic, models.EventValidated, map[string]any{
					"domain": result.Domain,
					"status": string(result.Status),
				})
			}

			refused = classify(op, refused)
			if KindOf(refused) == KindInfrastructure {
				return refused
			}
			result.Valid = false
			result.Reason = refused.Error()
			if errors.Is(refused, hardware.ErrUnknownHardware) {
				if err := s.logEvent(ctx, tx, lic, models.EventHardwareMismatch, map[string]any{"domain": req.Domain}); err != nil {
					return err
				}
			}
			return s.logEvent(ctx, tx, lic, models.EventValidationFailed, map[string]any{
				"domain": req.Domain,
				"reason": result.Reason,
				"kind":   string(KindOf(refused)),
			})
		})
		if err != nil {
			return err
		}
		return refused
	})
	if err != nil && (result == nil || result.Valid || KindOf(err) == KindInfrastructure) {
		return nil, err
	}
	s.count(ctx, func(m *Metrics) metricCounter { return m.Validations }, 1, attribute.Bool("valid", result.Valid))
	return result, err
}

func (s *Service) validate(ctx context.Context, tx repository.Store, lic *models.License, product *models.Product, plan *models.LicensePlan, req ValidationRequest) (*ValidationResult, error) {
	const op = "validate"
	status, err := s.syncStatus(ctx, tx, lic)
	result := &ValidationResult{
		Status:            status,
		Type:              lic.Type,
		Source:            lic.Source,
		Features:          lic.Features,
		ExpiresAt:         lic.ValidUntil,
		GracePeriodEndsAt: lic.GracePeriodEndsAt,
		NextCheckIn:       lic.NextCheckIn,
	}
	if err != nil {
		return result, err
	}

	if strings.TrimSpace(req.Domain) != "" {
		binding, err := s.domains.FindBinding(ctx, tx, lic, req.Domain)
		if err != nil {
			return result, err
		}
		normalized := domains.Normalize(req.Domain)
		if err := s.domains.CheckRestrictions(lic, plan, normalized, binding.IsLocal); err != nil {
			return result, err
		}
		if product.RequiresDomainVerification && !binding.IsLocal && binding.ValidationMethod != "" && !binding.IsVerifiedAt(s.clock.Now()) {
			return result, newError(KindPolicyViolation, op, ErrVerificationFailed,
				"ownership of %s has not been verified or the proof has expired", binding.Domain)
		}
		result.Domain = binding.Domain
	}

	if !req.HardwareInfo.IsEmpty() {
		if _, err := s.hardware.Identify(ctx, tx, lic, product, req.HardwareInfo); err != nil {
			return result, err
		}
	}

	switch status {
	case models.StatusActive, models.StatusTrial, models.StatusGracePeriod:
	case models.StatusPending:
		return result, newError(KindStatusViolation, op, ErrLicenseInactive, "license has not been activated")
	case models.StatusSuspended:
		return result, newError(KindStatusViolation, op, ErrLicenseSuspended, "")
	case models.StatusCancelled:
		return result, newError(KindStatusViolation, op, ErrLicenseCancelled, "")
	case models.StatusExpired:
		return result, newError(KindStatusViolation, op, ErrLicenseExpired, "")
	default:
		return result, newError(KindStatusViolation, op, ErrLicenseInactive, "")
	}

	result.Valid = true
	return result, nil
}

// CheckIn records a heartbeat from a bound domain. Repeating it only moves
// timestamps forward.
func (s *Service) CheckIn(ctx context.Context, key string, req CheckInRequest) (*CheckInResult, error) {
	const op = "check_in"
	var result *CheckInResult
	err := s.run(ctx, op, key, func(ctx context.Context, st *opState) error {
		if strings.TrimSpace(req.Domain) == "" {
			return newError(KindInvalidInput, op, ErrDomainRequired, "")
		}
		lic, err := s.resolve(ctx, op, key, st, VerificationContext{Domain: req.Domain})
		if err != nil {
			return err
		}

		return s.repo.WithinTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
			lic, err := tx.LockLicense(ctx, lic.ID)
			if err != nil {
				return err
			}
			st.lic = lic
			now := s.clock.Now()
			if err := checkUsable(op, lic, now); err != nil {
				return err
			}
			status, err := s.syncStatus(ctx, tx, lic)
			if err != nil {
				return err
			}
			product, _, err := s.policy(ctx, tx, lic)
			if err != nil {
				return err
			}

			binding, err := s.domains.FindBinding(ctx, tx, lic, req.Domain)
			if err != nil {
				return err
			}
			if !req.HardwareInfo.IsEmpty() {
				if _, err := s.hardware.Identify(ctx, tx, lic, product, req.HardwareInfo); err != nil {
					return err
				}
			}

			next := now.Add(s.checkInInterval(product))
			binding.LastCheckIn = &now
			binding.NextCheckIn = &next
			binding.FailedChecks = 0
			if err := tx.UpdateDomain(ctx, binding, "last_check_in", "next_check_in", "failed_checks", "updated_at"); err != nil {
				return err
			}

			if binding.ActivationID != nil {
				a, err := s.findActive(ctx, tx, lic, *binding.ActivationID)
				if err != nil {
					return err
				}
				if a != nil {
					a.LastCheckIn = &now
					a.NextCheckIn = &next
					a.FailedChecks = 0
					if err := tx.UpdateActivation(ctx, a, "last_check_in", "next_check_in", "failed_checks", "updated_at"); err != nil {
						return err
					}
				}
			}

			lic.LastCheckIn = &now
			lic.NextCheckIn = &next
			lic.FailedChecks = 0
			if err := tx.UpdateLicense(ctx, lic, "last_check_in", "next_check_in", "failed_checks", "updated_at"); err != nil {
				return err
			}

			result = &CheckInResult{Status: status, Domain: binding.Domain, LastCheckIn: now, NextCheckIn: next}
			return s.logEvent(ctx, tx, lic, models.EventCheckedIn, map[string]any{
				"domain":        binding.Domain,
				"activation_id": binding.ActivationID,
				"next_check_in": next,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.count(ctx, func(m *Metrics) metricCounter { return m.CheckIns }, 1)
	return result, nil
}

// RecordFailedCheck counts a missed or failed check for a bound domain.
// Reaching the license's failure limit deactivates the domain and releases
// its linked seat.
func (s *Service) RecordFailedCheck(ctx context.Context, key, domain, reason string) (*models.LicenseDomain, error) {
	const op = "record_failed_check"
	var out *models.LicenseDomain
	err := s.run(ctx, op, key, func(ctx context.Context, st *opState) error {
		if strings.TrimSpace(domain) == "" {
			return newError(KindInvalidInput, op, ErrDomainRequired, "")
		}
		lic, err := s.resolve(ctx, op, key, st, VerificationContext{Domain: domain})
		if err != nil {
			return err
		}
		return s.repo.WithinTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
			lic, err := tx.LockLicense(ctx, lic.ID)
			if err != nil {
				return err
			}
			st.lic = lic
			binding, err := s.domains.FindBinding(ctx, tx, lic, domain)
			if err != nil {
				return err
			}

			binding.FailedChecks++
			lic.FailedChecks++
			if err := tx.UpdateLicense(ctx, lic, "failed_checks", "updated_at"); err != nil {
				return err
			}

			deactivated := binding.FailedChecks >= s.maxFailedChecks(lic)
			if deactivated {
				if err := s.dropDomain(ctx, tx, lic, binding, "too many failed checks"); err != nil {
					return err
				}
			} else if err := tx.UpdateDomain(ctx, binding, "failed_checks", "updated_at"); err != nil {
				return err
			}

			out = binding
			return s.logEvent(ctx, tx, lic, models.EventCheckFailed, map[string]any{
				"domain":        binding.Domain,
				"failed_checks": binding.FailedChecks,
				"reason":        reason,
				"deactivated":   deactivated,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) maxFailedChecks(lic *models.License) int {
	if lic.MaxFailedChecks > 0 {
		return lic.MaxFailedChecks
	}
	return s.cfg.MaxFailedChecks
}

// findActive returns the active activation id of lic, or nil when it is
// no longer active.
func (s *Service) findActive(ctx context.Context, tx repository.Store, lic *models.License, id uint) (*models.LicenseActivation, error) {
	active, err := tx.ListActiveActivations(ctx, lic.ID, repository.ActivationFilter{})
	if err != nil {
		return nil, err
	}
	for i := range active {
		if active[i].ID == id {
			return &active[i], nil
		}
	}
	return nil, nil
}

// dropDomain deactivates d. A linked seat is released with it.
func (s *Service) dropDomain(ctx context.Context, tx repository.Store, lic *models.License, d *models.LicenseDomain, reason string) error {
	if d.ActivationID != nil {
		a, err := s.findActive(ctx, tx, lic, *d.ActivationID)
		if err != nil {
			return err
		}
		if a != nil {
			if err := s.release(ctx, tx, lic, a, reason); err != nil {
				return err
			}
			if err := tx.DecrementActivatedSeats(ctx, lic, 1); err != nil {
				return err
			}
			if err := tx.RecountActivatedSeats(ctx, lic); err != nil {
				return err
			}
		}
	}

	now := s.clock.Now()
	d.IsActive = false
	d.DeactivatedAt = &now
	d.DeactivationReason = reason
	return tx.UpdateDomain(ctx, d, "is_active", "failed_checks", "deactivated_at", "deactivation_reason", "updated_at")
}
