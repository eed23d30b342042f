package license

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
)

// AddDomain registers a domain that must prove ownership before it becomes
// active, and returns the challenge its owner has to publish.
func (s *Service) AddDomain(ctx context.Context, key, raw string, method models.ValidationMethod) (*DomainChallenge, error) {
	const op = "add_domain"
	var out *DomainChallenge
	err := s.run(ctx, op, key, func(ctx context.Context, st *opState) error {
		if method == "" {
			method = models.ValidationDNS
		}
		lic, err := s.resolve(ctx, op, key, st, VerificationContext{Domain: raw})
		if err != nil {
			return err
		}
		return s.repo.WithinTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
			lic, err := tx.LockLicense(ctx, lic.ID)
			if err != nil {
				return err
			}
			st.lic = lic
			if err := checkUsable(op, lic, s.clock.Now()); err != nil {
				return err
			}
			_, plan, err := s.policy(ctx, tx, lic)
			if err != nil {
				return err
			}
			d, challenge, err := s.domains.AddDomain(ctx, tx, lic, plan, raw, method)
			if err != nil {
				return err
			}
			out = &DomainChallenge{Domain: d, Challenge: challenge}
			return s.logEvent(ctx, tx, lic, models.EventDomainAdded, map[string]any{
				"domain": d.Domain,
				"method": string(method),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyDomain checks the published proof for a domain added with AddDomain.
// A failed check is persisted and counted before the error is returned.
func (s *Service) VerifyDomain(ctx context.Context, key, raw string) (*models.LicenseDomain, error) {
	const op = "verify_domain"
	var out *models.LicenseDomain
	err := s.run(ctx, op, key, func(ctx context.Context, st *opState) error {
		lic, err := s.resolve(ctx, op, key, st, VerificationContext{Domain: raw})
		if err != nil {
			return err
		}
		d, err := s.pendingDomain(ctx, op, lic, raw)
		if err != nil {
			return err
		}

		res, err := s.domains.CheckOwnership(ctx, d)
		if err != nil {
			return err
		}
		if out, err = s.applyOwnership(ctx, lic, d.Domain, res); err != nil {
			return err
		}
		if !res.Verified {
			return newError(KindPolicyViolation, op, ErrVerificationFailed,
				"ownership of %s could not be verified: %s", d.Domain, res.Reason)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RefreshDomainVerification re-checks every active domain whose ownership
// proof has gone stale.
func (s *Service) RefreshDomainVerification(ctx context.Context, key string) (*RefreshReport, error) {
	const op = "refresh_domains"
	report := &RefreshReport{}
	err := s.run(ctx, op, key, func(ctx context.Context, st *opState) error {
		lic, err := s.resolve(ctx, op, key, st, VerificationContext{})
		if err != nil {
			return err
		}
		rows, err := s.repo.ListDomains(ctx, lic.ID, true)
		if err != nil {
			return err
		}

		for i := range rows {
			d := &rows[i]
			if !s.domains.NeedsRefresh(d) {
				continue
			}
			report.Checked++
			res, err := s.domains.CheckOwnership(ctx, d)
			if err != nil {
				res = domains.Result{Reason: err.Error()}
			}
			updated, err := s.applyOwnership(ctx, lic, d.Domain, res)
			if err != nil {
				return err
			}
			switch {
			case res.Verified:
				report.Verified = append(report.Verified, d.Domain)
			case !updated.IsActive:
				report.Deactivated = append(report.Deactivated, d.Domain)
			default:
				report.Failed = append(report.Failed, d.Domain)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Service) pendingDomain(ctx context.Context, op string, lic *models.License, raw string) (*models.LicenseDomain, error) {
	normalized := domains.Normalize(raw)
	if normalized == "" {
		return nil, newError(KindInvalidInput, op, ErrDomainRequired, "")
	}
	d, err := s.repo.FindLicenseDomain(ctx, lic.ID, normalized)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindNotFound, op, ErrDomainNotFound, "domain %s has not been added to this license", normalized)
	}
	if err != nil {
		return nil, err
	}
	if d.ValidationMethod == "" || d.ValidationToken == "" {
		return nil, newError(KindInvalidInput, op, ErrInvalidInput, "no ownership verification was requested for %s", normalized)
	}
	return d, nil
}

// applyOwnership stores a verification outcome. A domain deactivated by
// repeated failures gives up its linked seat.
func (s *Service) applyOwnership(ctx context.Context, lic *models.License, domain string, res domains.Result) (*models.LicenseDomain, error) {
	var out *models.LicenseDomain
	err := s.repo.WithinTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		lic, err := tx.LockLicense(ctx, lic.ID)
		if err != nil {
			return err
		}
		_, plan, err := s.policy(ctx, tx, lic)
		if err != nil {
			return err
		}
		d, err := tx.FindLicenseDomain(ctx, lic.ID, domain)
		if err != nil {
			return err
		}

		deactivated, err := s.domains.ApplyOwnership(ctx, tx, lic, plan, d, res, s.maxFailedChecks(lic))
		if err != nil {
			return err
		}
		if deactivated {
			if err := s.dropDomain(ctx, tx, lic, d, d.DeactivationReason); err != nil {
				return err
			}
		}
		out = d

		if res.Verified {
			return s.logEvent(ctx, tx, lic, models.EventDomainVerified, map[string]any{
				"domain": d.Domain,
				"method": string(d.ValidationMethod),
			})
		}
		return s.logEvent(ctx, tx, lic, models.EventDomainVerifyFailed, map[string]any{
			"domain":        d.Domain,
			"reason":        res.Reason,
			"failed_checks": d.FailedChecks,
			"deactivated":   deactivated,
		})
	})
	if err != nil {
		return nil, err
	}
	s.count(ctx, func(m *Metrics) metricCounter { return m.DomainVerifications }, 1,
		attribute.Bool("verified", res.Verified))
	return out, nil
}
