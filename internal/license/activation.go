package license

import (
	"context"
	"errors"
	"strings"

	"gorm.io/datatypes"

	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
)

// ActivateLicense occupies one seat for a device and optionally binds a
// domain to it. Every step runs in one transaction; any failure leaves
// nothing behind.
func (s *Service) ActivateLicense(ctx context.Context, key string, req ActivationRequest) (*ActivationResult, error) {
	const op = "activate"
	var result *ActivationResult
	err := s.run(ctx, op, key, func(ctx context.Context, st *opState) error {
		req.DeviceIdentifier = strings.TrimSpace(req.DeviceIdentifier)
		if req.DeviceIdentifier == "" && strings.TrimSpace(req.Domain) != "" {
			req.DeviceIdentifier = "domain:" + domains.Normalize(req.Domain)
		}
		if req.DeviceIdentifier == "" {
			return newError(KindInvalidInput, op, ErrInvalidInput, "device_identifier is required")
		}

		lic, err := s.resolve(ctx, op, key, st, VerificationContext{Domain: req.Domain, IPAddress: req.IPAddress})
		if err != nil {
			return err
		}
		return s.repo.WithinTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
			lic, err := tx.LockLicense(ctx, lic.ID)
			if err != nil {
				return err
			}
			st.lic = lic
			product, plan, err := s.policy(ctx, tx, lic)
			if err != nil {
				return err
			}
			result, err = s.activate(ctx, tx, lic, product, plan, req)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.count(ctx, func(m *Metrics) metricCounter { return m.Activations }, 1)
	return result, nil
}

func (s *Service) activate(ctx context.Context, tx repository.Store, lic *models.License, product *models.Product, plan *models.LicensePlan, req ActivationRequest) (*ActivationResult, error) {
	const op = "activate"
	now := s.clock.Now()

	if err := checkUsable(op, lic, now); err != nil {
		return nil, err
	}
	if _, err := s.syncStatus(ctx, tx, lic); err != nil {
		return nil, err
	}

	inUse, err := tx.CountActiveActivations(ctx, lic.ID)
	if err != nil {
		return nil, err
	}
	if !lic.HasUnlimitedSeats() && inUse >= lic.PurchasedSeats {
		return nil, newError(KindPolicyViolation, op, ErrSeatLimitExceeded,
			"seat limit reached: %d of %d seats in use", inUse, lic.PurchasedSeats)
	}

	if _, err := tx.FindActiveActivationByDevice(ctx, lic.ID, req.DeviceIdentifier); err == nil {
		return nil, newError(KindPolicyViolation, op, ErrDeviceAlreadyActive,
			"device %q is already activated on this license", req.DeviceIdentifier)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	typ := req.Type
	if typ == "" {
		typ = models.ActivationMachine
		if req.Domain != "" {
			typ = models.ActivationDomain
		}
	}
	if typ == models.ActivationDomain && strings.TrimSpace(req.Domain) == "" {
		return nil, newError(KindInvalidInput, op, ErrDomainRequired, "domain is required for domain activations")
	}

	var hash string
	info := req.HardwareInfo.Normalize()
	if !info.IsEmpty() || product.RequiresHardwareVerification {
		if info.IsEmpty() {
			return nil, newError(KindInvalidInput, op, ErrInvalidInput, "hardware_info is required for this product")
		}
		hash = s.hardware.GenerateHardwareHash(info)
		if existing, err := tx.FindActiveActivationByHardware(ctx, lic.ID, hash); err == nil {
			return nil, newError(KindPolicyViolation, op, ErrDeviceAlreadyActive,
				"this hardware is already activated as %q", existing.DeviceIdentifier)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if _, err := s.hardware.Validate(ctx, tx, lic, product, info); err != nil {
			return nil, err
		}
	}

	token, err := GenerateActivationToken()
	if err != nil {
		return nil, err
	}
	next := now.Add(s.checkInInterval(product))
	a := &models.LicenseActivation{
		LicenseID:        lic.ID,
		ActivationToken:  token,
		Type:             typ,
		DeviceIdentifier: req.DeviceIdentifier,
		DeviceName:       req.DeviceName,
		HardwareHash:     hash,
		HardwareInfo:     datatypes.NewJSONType(info),
		IPAddress:        req.IPAddress,
		UserAgent:        req.UserAgent,
		IsActive:         true,
		ActivatedAt:      now,
		LastCheckIn:      &now,
		NextCheckIn:      &next,
		Metadata:         req.Metadata,
	}
	if err := tx.CreateActivation(ctx, a); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, newError(KindPolicyViolation, op, ErrDeviceAlreadyActive,
				"device %q is already activated on this license", req.DeviceIdentifier)
		}
		return nil, err
	}

	var domain string
	if strings.TrimSpace(req.Domain) != "" {
		d, err := s.domains.ClaimDomain(ctx, tx, lic, plan, req.Domain, &a.ID)
		if err != nil {
			return nil, err
		}
		domain = d.Domain
	}

	if err := tx.IncrementActivatedSeats(ctx, lic); err != nil {
		return nil, err
	}
	if err := tx.RecountActivatedSeats(ctx, lic); err != nil {
		return nil, err
	}

	if lic.Status == models.StatusPending {
		lic.Status = models.StatusActive
		if lic.Type == models.TypeTrial {
			lic.Status = models.StatusTrial
		}
	}
	lic.NextCheckIn = &next
	lic.LastCheckIn = &now
	if err := tx.UpdateLicense(ctx, lic, "status", "next_check_in", "last_check_in", "updated_at"); err != nil {
		return nil, err
	}

	if err := s.logEvent(ctx, tx, lic, models.EventActivated, map[string]any{
		"activation_id":     a.ID,
		"device_identifier": a.DeviceIdentifier,
		"type":              string(a.Type),
		"domain":            domain,
		"activated_seats":   lic.ActivatedSeats,
	}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "license activated",
		"license_id", lic.ID,
		"activation_id", a.ID,
		"type", a.Type,
		"domain", domain,
		"activated_seats", lic.ActivatedSeats)

	return &ActivationResult{
		ActivationID:    a.ID,
		ActivationToken: a.ActivationToken,
		Domain:          domain,
		Status:          lic.Status,
		ExpiresAt:       lic.ValidUntil,
		NextCheckIn:     &next,
		Seats:           seatSummary(lic),
	}, nil
}
