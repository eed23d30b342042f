package license

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CodexShaper-Devs/license-sub000/internal/marketplace"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
)

// MarketplaceRestriction is the restriction key holding purchase details.
const MarketplaceRestriction = "marketplace"

// CreateLicense issues and seals a new license in pending status.
func (s *Service) CreateLicense(ctx context.Context, req CreateRequest) (*models.License, error) {
	const op = "create"
	var lic *models.License
	err := s.run(ctx, op, req.LicenseKey, func(ctx context.Context, st *opState) error {
		var err error
		lic, err = s.createLicense(ctx, op, req)
		st.lic = lic
		return err
	})
	if err != nil {
		return nil, err
	}
	return lic, nil
}

func (s *Service) createLicense(ctx context.Context, op string, req CreateRequest) (*models.License, error) {
	if req.ProductID == 0 {
		return nil, newError(KindInvalidInput, op, ErrInvalidInput, "product_id is required")
	}
	product, err := s.repo.FindProduct(ctx, req.ProductID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindInvalidInput, op, ErrProductNotFound, "product %d not found", req.ProductID)
	}
	if err != nil {
		return nil, err
	}

	var plan *models.LicensePlan
	if req.PlanID != nil {
		plan, err = s.repo.FindPlan(ctx, *req.PlanID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindInvalidInput, op, ErrInvalidInput, "plan %d not found", *req.PlanID)
		}
		if err != nil {
			return nil, err
		}
		if plan.ProductID != 0 && plan.ProductID != product.ID {
			return nil, newError(KindInvalidInput, op, ErrInvalidInput, "plan %d does not belong to product %d", plan.ID, product.ID)
		}
	}

	typ := req.Type
	if typ == "" {
		typ = models.TypeSubscription
		if plan != nil && plan.BillingCycle == models.BillingLifetime {
			typ = models.TypeLifetime
		}
	}
	switch typ {
	case models.TypeSubscription, models.TypeLifetime, models.TypeTrial:
	default:
		return nil, newError(KindInvalidInput, op, ErrInvalidInput, "unknown license type %q", typ)
	}

	source := req.Source
	if source == "" {
		source = models.SourceCustom
	}
	switch source {
	case models.SourceCustom, models.SourceEnvato, models.SourceOther:
	default:
		return nil, newError(KindInvalidInput, op, ErrInvalidInput, "unknown license source %q", source)
	}

	seats := req.PurchasedSeats
	if seats == 0 {
		seats = 1
		if plan != nil && plan.MinSeats > 1 {
			seats = plan.MinSeats
		}
	}
	if seats < models.UnlimitedSeats {
		return nil, newError(KindInvalidInput, op, ErrInvalidInput, "purchased_seats must be positive or %d for unlimited", models.UnlimitedSeats)
	}

	restrictions := map[string]any{}
	for k, v := range req.Restrictions {
		restrictions[k] = v
	}
	code := strings.TrimSpace(req.PurchaseCode)
	if source == models.SourceEnvato && code == "" {
		return nil, newError(KindInvalidInput, op, ErrInvalidInput, "purchase_code is required for envato licenses")
	}
	if code != "" && source != models.SourceCustom && s.marketplace != nil {
		purchase, err := s.marketplace.VerifyPurchase(ctx, source, code)
		if err != nil {
			return nil, err
		}
		if source == models.SourceEnvato && !marketplace.MatchesItem(purchase, product.EnvatoItemID) {
			return nil, newError(KindPolicyViolation, op, ErrProductMismatch,
				"purchase is for item %s, not %s", purchase.ItemID, product.Name)
		}
		restrictions[MarketplaceRestriction] = purchase.Map()
	}

	key := strings.TrimSpace(req.LicenseKey)
	if key == "" {
		if key, err = GenerateLicenseKey(); err != nil {
			return nil, err
		}
	}
	if _, err := s.repo.FindLicenseByKey(ctx, key); err == nil {
		return nil, newError(KindPolicyViolation, op, ErrDuplicateLicense, "")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	validFrom := now
	if req.ValidFrom != nil {
		validFrom = req.ValidFrom.UTC()
	}

	features := map[string]any{}
	if plan != nil {
		for k, v := range plan.Features {
			features[k] = v
		}
	}
	for k, v := range req.Features {
		features[k] = v
	}

	maxFailed := req.MaxFailedChecks
	if maxFailed <= 0 && plan != nil {
		maxFailed = plan.MaxFailedChecks
	}
	if maxFailed <= 0 {
		maxFailed = s.cfg.MaxFailedChecks
	}

	lic := &models.License{
		UUID:               uuid.NewString(),
		ProductID:          product.ID,
		PlanID:             req.PlanID,
		Type:               typ,
		Source:             source,
		SourcePurchaseCode: code,
		PurchasedSeats:     seats,
		ValidFrom:          validFrom,
		MaxFailedChecks:    maxFailed,
		Features:           features,
		Restrictions:       restrictions,
		Status:             models.StatusPending,
	}

	switch typ {
	case models.TypeTrial:
		days := req.TrialDays
		if days <= 0 && plan != nil {
			days = plan.TrialDays
		}
		period := time.Duration(days) * 24 * time.Hour
		if days <= 0 {
			period = s.cfg.TrialPeriod
		}
		ends := validFrom.Add(period)
		lic.TrialEndsAt = &ends
		lic.ValidUntil = &ends
	case models.TypeSubscription:
		until := req.ValidUntil
		if until == nil {
			d := 365 * 24 * time.Hour
			if plan != nil && plan.Duration() > 0 {
				d = plan.Duration()
			}
			end := validFrom.Add(d)
			until = &end
		}
		if !until.After(validFrom) {
			return nil, newError(KindInvalidInput, op, ErrInvalidInput, "valid_until must be after valid_from")
		}
		graceEnds := until.Add(s.gracePeriod(product, plan))
		lic.ValidUntil = until
		lic.GracePeriodEndsAt = &graceEnds
	}

	payload := map[string]any{
		"license_key":     key,
		"uuid":            lic.UUID,
		"product_id":      lic.ProductID,
		"type":            string(lic.Type),
		"source":          string(lic.Source),
		"purchased_seats": lic.PurchasedSeats,
		"valid_from":      lic.ValidFrom,
		"valid_until":     lic.ValidUntil,
		"features":        features,
		"restrictions":    restrictions,
	}
	if lic.PlanID != nil {
		payload["plan_id"] = *lic.PlanID
	}
	env, err := s.security.CreateSecureLicense(ctx, key, payload)
	if err != nil {
		return nil, err
	}
	env.Apply(lic)

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.CreateLicense(ctx, lic); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return newError(KindPolicyViolation, op, ErrDuplicateLicense, "")
			}
			return err
		}
		return s.logEvent(ctx, tx, lic, models.EventCreated, map[string]any{
			"type":            string(lic.Type),
			"source":          string(lic.Source),
			"purchased_seats": lic.PurchasedSeats,
			"valid_until":     lic.ValidUntil,
		})
	})
	if err != nil {
		return nil, err
	}
	return lic, nil
}

// RenewLicense extends a subscription by one period.
func (s *Service) RenewLicense(ctx context.Context, key string, req RenewRequest) (*models.License, error) {
	const op = "renew"
	var out *models.License
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
			now := s.clock.Now()
			if err := CheckRenewal(lic, now, s.cfg.RenewalWindowBefore, s.cfg.RenewalWindowAfter); err != nil {
				return err
			}
			product, plan, err := s.policy(ctx, tx, lic)
			if err != nil {
				return err
			}

			cycle, days := req.Period, 0
			if cycle == "" && plan != nil {
				cycle, days = plan.BillingCycle, plan.DurationDays
			}
			previous := lic.ValidUntil
			until := renewedUntil(lic, cycle, days, now)
			if until == nil {
				lic.Type = models.TypeLifetime
				lic.ValidUntil = nil
				lic.GracePeriodEndsAt = nil
			} else {
				graceEnds := until.Add(s.gracePeriod(product, plan))
				lic.ValidUntil = until
				lic.GracePeriodEndsAt = &graceEnds
			}
			previousStatus := lic.Status
			lic.Status = renewedStatus(lic)
			lic.RenewalCount++
			lic.RenewalReminderSent = false
			lic.FailedChecks = 0

			if err := tx.UpdateLicense(ctx, lic, "type", "valid_until", "grace_period_ends_at", "status",
				"renewal_count", "renewal_reminder_sent", "failed_checks", "updated_at"); err != nil {
				return err
			}
			out = lic
			return s.logEvent(ctx, tx, lic, models.EventRenewed, map[string]any{
				"previous_valid_until": previous,
				"previous_status":      string(previousStatus),
				"valid_until":          lic.ValidUntil,
				"period":               string(cycle),
				"renewal_count":        lic.RenewalCount,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Suspend blocks a license until it is reinstated.
func (s *Service) Suspend(ctx context.Context, key, reason string) (*models.License, error) {
	return s.changeStatus(ctx, "suspend", key, models.StatusSuspended, models.EventSuspended, reason)
}

// Reinstate returns a suspended license to active.
func (s *Service) Reinstate(ctx context.Context, key, reason string) (*models.License, error) {
	return s.changeStatus(ctx, "reinstate", key, models.StatusActive, models.EventReinstated, reason)
}

// Cancel ends a license permanently and releases all of its seats and domains.
func (s *Service) Cancel(ctx context.Context, key, reason string) (*models.License, error) {
	return s.changeStatus(ctx, "cancel", key, models.StatusCancelled, models.EventCancelled, reason)
}

func (s *Service) changeStatus(ctx context.Context, op, key string, to models.LicenseStatus, event models.EventType, reason string) (*models.License, error) {
	var out *models.License
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
			from := lic.Status
			if op == "reinstate" && from != models.StatusSuspended {
				return newError(KindStatusViolation, op, ErrInvalidTransition, "only suspended licenses can be reinstated")
			}
			if !CanTransition(from, to) {
				return newError(KindStatusViolation, op, ErrInvalidTransition, "cannot change status from %s to %s", from, to)
			}

			released := 0
			if to == models.StatusCancelled {
				if released, err = s.releaseAll(ctx, tx, lic, "license cancelled"); err != nil {
					return err
				}
			}

			lic.Status = to
			if err := tx.UpdateLicense(ctx, lic, "status", "updated_at"); err != nil {
				return err
			}
			out = lic
			data := map[string]any{"previous_status": string(from)}
			if reason != "" {
				data["reason"] = reason
			}
			if released > 0 {
				data["released_seats"] = released
			}
			return s.logEvent(ctx, tx, lic, event, data)
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetLicense returns the administrative view of a license including its
// decrypted payload.
func (s *Service) GetLicense(ctx context.Context, key string) (*Details, error) {
	const op = "inspect"
	var out *Details
	err := s.run(ctx, op, key, func(ctx context.Context, st *opState) error {
		lic, err := s.lookup(ctx, op, strings.TrimSpace(key))
		if err != nil {
			return err
		}
		st.lic = lic
		payload, err := s.security.OpenLicense(ctx, lic)
		if err != nil {
			return err
		}
		activations, err := s.repo.ListActiveActivations(ctx, lic.ID, repository.ActivationFilter{})
		if err != nil {
			return err
		}
		domainRows, err := s.repo.ListDomains(ctx, lic.ID, false)
		if err != nil {
			return err
		}
		out = &Details{
			License:     lic,
			Status:      EffectiveStatus(lic, s.clock.Now()),
			Seats:       seatSummary(lic),
			Activations: activations,
			Domains:     domainRows,
			Payload:     payload,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Events returns the audit trail of a license, oldest first.
func (s *Service) Events(ctx context.Context, key string) ([]models.LicenseEvent, error) {
	const op = "events"
	var out []models.LicenseEvent
	err := s.run(ctx, op, key, func(ctx context.Context, st *opState) error {
		lic, err := s.lookup(ctx, op, strings.TrimSpace(key))
		if err != nil {
			return err
		}
		st.lic = lic
		out, err = s.repo.ListEvents(ctx, lic.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
