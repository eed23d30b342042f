package license

import (
	"context"
	"errors"
	"strings"

	"github.com/CodexShaper-Devs/license-sub000/internal/actor"
	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
)

const defaultDeactivationReason = "deactivated by request"

// DeactivateLicense releases the seat identified by its activation token.
func (s *Service) DeactivateLicense(ctx context.Context, key, token, reason string) (*SeatSummary, error) {
	const op = "deactivate"
	return s.deactivateWith(ctx, op, key, func(ctx context.Context, tx repository.Store, lic *models.License) (int, error) {
		a, err := s.activeActivation(ctx, tx, op, lic, token)
		if err != nil {
			return 0, err
		}
		if err := s.release(ctx, tx, lic, a, reason); err != nil {
			return 0, err
		}
		return 1, s.logEvent(ctx, tx, lic, models.EventDeactivated, map[string]any{
			"activation_id":     a.ID,
			"device_identifier": a.DeviceIdentifier,
			"reason":            orDefault(reason),
		})
	})
}

// DeactivateByDomain releases a seat only when the domain is bound to the
// activation the token names.
func (s *Service) DeactivateByDomain(ctx context.Context, key, domain, token, reason string) (*SeatSummary, error) {
	const op = "deactivate_domain"
	return s.deactivateWith(ctx, op, key, func(ctx context.Context, tx repository.Store, lic *models.License) (int, error) {
		normalized := domains.Normalize(domain)
		if normalized == "" {
			return 0, newError(KindInvalidInput, op, ErrDomainRequired, "")
		}
		d, err := tx.FindLicenseDomain(ctx, lic.ID, normalized)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && !d.IsActive) {
			return 0, newError(KindNotFound, op, ErrDomainNotFound, "domain %s is not active on this license", normalized)
		}
		if err != nil {
			return 0, err
		}

		a, err := tx.FindActivationByToken(ctx, lic.ID, strings.TrimSpace(token))
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return 0, err
		}
		if err != nil || !a.IsActive || d.ActivationID == nil || *d.ActivationID != a.ID {
			return 0, newError(KindPolicyViolation, op, ErrTokenMismatch, "")
		}

		if err := s.release(ctx, tx, lic, a, reason); err != nil {
			return 0, err
		}
		return 1, s.logEvent(ctx, tx, lic, models.EventDomainDeactivated, map[string]any{
			"activation_id": a.ID,
			"domain":        normalized,
			"reason":        orDefault(reason),
		})
	})
}

// DeactivateEntireLicense releases every seat and domain. A license with no
// active seats is an error.
func (s *Service) DeactivateEntireLicense(ctx context.Context, key, reason string) (*SeatSummary, error) {
	const op = "deactivate_all"
	return s.deactivateWith(ctx, op, key, func(ctx context.Context, tx repository.Store, lic *models.License) (int, error) {
		n, err := s.releaseAll(ctx, tx, lic, reason)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, newError(KindPolicyViolation, op, ErrNoActiveSeats, "")
		}
		return n, s.logEvent(ctx, tx, lic, models.EventFullyDeactivated, map[string]any{
			"count":  n,
			"reason": orDefault(reason),
		})
	})
}

// BulkDeactivate releases the active seats matching filter and reports how
// many were released.
func (s *Service) BulkDeactivate(ctx context.Context, key string, filter BulkFilter) (int, *SeatSummary, error) {
	const op = "bulk_deactivate"
	var released int
	seats, err := s.deactivateWith(ctx, op, key, func(ctx context.Context, tx repository.Store, lic *models.License) (int, error) {
		f := repository.ActivationFilter{Type: filter.Type}
		if id := strings.TrimSpace(filter.DeviceIdentifier); id != "" {
			f.DeviceIdentifiers = []string{id}
		}
		active, err := tx.ListActiveActivations(ctx, lic.ID, f)
		if err != nil {
			return 0, err
		}

		if sub := strings.ToLower(strings.TrimSpace(filter.Domain)); sub != "" {
			rows, err := tx.ListDomains(ctx, lic.ID, true)
			if err != nil {
				return 0, err
			}
			linked := make(map[uint]bool)
			for _, d := range rows {
				if d.ActivationID != nil && strings.Contains(d.Domain, sub) {
					linked[*d.ActivationID] = true
				}
			}
			kept := active[:0]
			for _, a := range active {
				if linked[a.ID] {
					kept = append(kept, a)
				}
			}
			active = kept
		}

		for i := range active {
			if err := s.release(ctx, tx, lic, &active[i], filter.Reason); err != nil {
				return 0, err
			}
		}
		released = len(active)
		if released == 0 {
			return 0, nil
		}
		return released, s.logEvent(ctx, tx, lic, models.EventBulkDeactivated, map[string]any{
			"count":             released,
			"domain":            filter.Domain,
			"device_identifier": filter.DeviceIdentifier,
			"type":              string(filter.Type),
			"reason":            orDefault(filter.Reason),
		})
	})
	if err != nil {
		return 0, nil, err
	}
	return released, seats, nil
}

// deactivateWith resolves the license, runs fn in a transaction and
// re-derives the seat count from the live activations.
func (s *Service) deactivateWith(ctx context.Context, op, key string, fn func(ctx context.Context, tx repository.Store, lic *models.License) (int, error)) (*SeatSummary, error) {
	var summary SeatSummary
	var released int
	err := s.run(ctx, op, key, func(ctx context.Context, st *opState) error {
		lic, err := s.resolve(ctx, op, key, st, VerificationContext{})
		if err != nil {
			return err
		}
		return s.repo.WithinTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
			lic, err := tx.LockLicense(ctx, lic.ID)
			if err != nil {
				return err
			}
			st.lic = lic
			if released, err = fn(ctx, tx, lic); err != nil {
				return err
			}
			if released > 0 {
				if err := tx.DecrementActivatedSeats(ctx, lic, released); err != nil {
					return err
				}
			}
			expected := lic.ActivatedSeats
			if err := tx.RecountActivatedSeats(ctx, lic); err != nil {
				return err
			}
			if expected != lic.ActivatedSeats {
				s.logger.WarnContext(ctx, "activated seat counter drifted",
					"license_id", lic.ID,
					"counter", expected,
					"live", lic.ActivatedSeats)
			}
			summary = seatSummary(lic)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.count(ctx, func(m *Metrics) metricCounter { return m.Deactivations }, int64(released))
	return &summary, nil
}

func (s *Service) activeActivation(ctx context.Context, tx repository.Store, op string, lic *models.License, token string) (*models.LicenseActivation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(KindInvalidInput, op, ErrInvalidInput, "activation_token is required")
	}
	a, err := tx.FindActivationByToken(ctx, lic.ID, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindNotFound, op, ErrActivationNotFound, "")
	}
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		return nil, newError(KindNotFound, op, ErrActivationNotFound, "activation is already deactivated")
	}
	return a, nil
}

// release marks one activation inactive together with its linked domains.
// The seat counter is adjusted by the caller.
func (s *Service) release(ctx context.Context, tx repository.Store, lic *models.License, a *models.LicenseActivation, reason string) error {
	now := s.clock.Now()
	reason = orDefault(reason)
	a.IsActive = false
	a.DeactivatedAt = &now
	a.DeactivatedBy = actor.FromContext(ctx).String()
	a.DeactivationReason = reason
	if err := tx.UpdateActivation(ctx, a, "is_active", "deactivated_at", "deactivated_by", "deactivation_reason", "updated_at"); err != nil {
		return err
	}
	_, err := tx.DeactivateDomains(ctx, lic.ID, &a.ID, now, reason)
	return err
}

// releaseAll deactivates every active activation and every active domain,
// including domains never linked to an activation.
func (s *Service) releaseAll(ctx context.Context, tx repository.Store, lic *models.License, reason string) (int, error) {
	active, err := tx.ListActiveActivations(ctx, lic.ID, repository.ActivationFilter{})
	if err != nil {
		return 0, err
	}
	for i := range active {
		if err := s.release(ctx, tx, lic, &active[i], reason); err != nil {
			return 0, err
		}
	}
	if _, err := tx.DeactivateDomains(ctx, lic.ID, nil, s.clock.Now(), orDefault(reason)); err != nil {
		return 0, err
	}
	if len(active) > 0 {
		if err := tx.RecountActivatedSeats(ctx, lic); err != nil {
			return 0, err
		}
	}
	return len(active), nil
}

func orDefault(reason string) string {
	if r := strings.TrimSpace(reason); r != "" {
		return r
	}
	return defaultDeactivationReason
}
