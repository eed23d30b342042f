// Package hardware binds machine activations to hardware fingerprints.
//
// Two comparison policies coexist. Validate admits and refreshes machines
// by exact fingerprint hash. Identify falls back to the fuzzy comparator on
// LicenseActivation, which scores the share of reported components that
// still match. With the default 0.7 threshold a machine that reported all
// four components (bios_id included) survives one replacement at 0.75. A
// machine that reported only cpu_id, disk_id and mac_address scores 0.67
// after one replacement and must activate again.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CodexShaper-Devs/license-sub000/internal/clock"
	"github.com/CodexShaper-Devs/license-sub000/internal/config"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
	"github.com/CodexShaper-Devs/license-sub000/internal/security"
)

var (
	ErrMissingHardware = errors.New("hardware information is required")
	ErrStaleActivation = errors.New("hardware has not checked in recently and must be re-activated")
	ErrNoSeatAvailable = errors.New("no seat available for new hardware")
	ErrChangeLimit     = errors.New("hardware change limit exceeded")
	ErrTooManyAttempts = errors.New("too many activation attempts for this hardware")
	ErrUnknownHardware = errors.New("hardware does not match any activation")
)

// Match is an activation identified from presented hardware.
type Match struct {
	Activation *models.LicenseActivation
	Exact      bool
	Similarity float64
}

// Validator applies the hardware policy of a license's product.
type Validator struct {
	limiter         AttemptLimiter
	clock           clock.Clock
	cfg             config.HardwareConfig
	defaultInterval time.Duration
	logger          *slog.Logger
}

// NewValidator uses defaultInterval for products without a check-in cadence.
func NewValidator(limiter AttemptLimiter, clk clock.Clock, cfg config.HardwareConfig, defaultInterval time.Duration, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		limiter:         limiter,
		clock:           clk,
		cfg:             cfg,
		defaultInterval: defaultInterval,
		logger:          logger.With("component", "hardware_validator"),
	}
}

// GenerateHardwareHash fingerprints info.
func (v *Validator) GenerateHardwareHash(info security.HardwareInfo) string {
	return security.HardwareHash(info.Normalize())
}

// Validate reports whether info may be used on lic. Hardware already bound
// by exact hash is refreshed if it checked in within the recency window.
// New hardware needs a free seat, room under the product's change limit and
// an attempt budget. A false result always carries an error naming the
// policy that refused it.
func (v *Validator) Validate(ctx context.Context, tx repository.Store, lic *models.License, product *models.Product, info security.HardwareInfo) (bool, error) {
	info = info.Normalize()
	if info.IsEmpty() {
		return false, ErrMissingHardware
	}
	hash := security.HardwareHash(info)

	existing, err := tx.FindActiveActivationByHardware(ctx, lic.ID, hash)
	switch {
	case err == nil:
		if err := v.refresh(ctx, tx, product, existing); err != nil {
			return false, err
		}
		return true, nil
	case !errors.Is(err, repository.ErrNotFound):
		return false, err
	}

	if err := v.admit(ctx, tx, lic, product, hash); err != nil {
		return false, err
	}
	return true, nil
}

// admit checks whether a machine never seen on the license may take a seat.
func (v *Validator) admit(ctx context.Context, tx repository.Store, lic *models.License, product *models.Product, hash string) error {
	if !lic.HasSeatAvailable() {
		return fmt.Errorf("%w: %d of %d seats in use", ErrNoSeatAvailable, lic.ActivatedSeats, lic.PurchasedSeats)
	}

	if product != nil && product.MaxHardwareChanges > 0 && !lic.HasUnlimitedSeats() {
		known, err := tx.CountHardwareHashes(ctx, lic.ID)
		if err != nil {
			return err
		}
		if limit := lic.PurchasedSeats + product.MaxHardwareChanges; known >= limit {
			v.logger.WarnContext(ctx, "hardware change limit reached",
				"license_id", lic.ID,
				"known_machines", known,
				"limit", limit)
			return fmt.Errorf("%w: %d machines already used", ErrChangeLimit, known)
		}
	}

	// The limiter lives outside tx and counts attempts, not successes: an
	// activation rolled back later in the transaction still spends one.
	if v.limiter != nil {
		ok, err := v.limiter.Allow(ctx, fmt.Sprintf("%d:%s", lic.ID, hash))
		if err != nil {
			return err
		}
		if !ok {
			v.logger.WarnContext(ctx, "hardware attempt limit reached",
				"license_id", lic.ID,
				"max_attempts", v.cfg.MaxAttempts,
				"window", v.cfg.AttemptWindow.String())
			return ErrTooManyAttempts
		}
	}
	return nil
}

// Identify finds the active machine activation matching info, by exact hash
// first and then by the fuzzy comparator. The match's check-in is advanced.
func (v *Validator) Identify(ctx context.Context, tx repository.Store, lic *models.License, product *models.Product, info security.HardwareInfo) (*Match, error) {
	info = info.Normalize()
	if info.IsEmpty() {
		return nil, ErrMissingHardware
	}
	hash := security.HardwareHash(info)

	existing, err := tx.FindActiveActivationByHardware(ctx, lic.ID, hash)
	switch {
	case err == nil:
		if err := v.refresh(ctx, tx, product, existing); err != nil {
			return nil, err
		}
		return &Match{Activation: existing, Exact: true, Similarity: 1}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	active, err := tx.ListActiveActivations(ctx, lic.ID, repository.ActivationFilter{})
	if err != nil {
		return nil, err
	}
	for i := range active {
		a := &active[i]
		if a.HardwareHash == "" || !a.VerifyHardware(info, v.cfg.SimilarityThreshold) {
			continue
		}
		similarity := security.HardwareSimilarity(a.HardwareInfo.Data(), info)
		v.logger.InfoContext(ctx, "hardware matched by similarity",
			"license_id", lic.ID,
			"activation_id", a.ID,
			"similarity", similarity)
		if err := v.refresh(ctx, tx, product, a); err != nil {
			return nil, err
		}
		return &Match{Activation: a, Similarity: similarity}, nil
	}
	return nil, ErrUnknownHardware
}

func (v *Validator) refresh(ctx context.Context, tx repository.Store, product *models.Product, a *models.LicenseActivation) error {
	now := v.clock.Now()
	if v.cfg.RecencyWindow > 0 && !a.IsCheckInRecent(now, v.cfg.RecencyWindow) {
		return ErrStaleActivation
	}
	next := now.Add(product.CheckInInterval(v.defaultInterval))
	a.LastCheckIn = &now
	a.NextCheckIn = &next
	a.FailedChecks = 0
	return tx.UpdateActivation(ctx, a, "last_check_in", "next_check_in", "failed_checks", "updated_at")
}
