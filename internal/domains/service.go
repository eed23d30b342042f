package domains

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/CodexShaper-Devs/license-sub000/internal/clock"
	"github.com/CodexShaper-Devs/license-sub000/internal/config"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
)

// PatternRestriction is the license restriction holding an extra domain pattern.
const PatternRestriction = "domain_pattern"

// Service applies per-license domain policy. All methods that write take
// the transactional store of the calling use case.
type Service struct {
	validator *Validator
	verifiers map[models.ValidationMethod]OwnershipVerifier
	clock     clock.Clock
	cfg       config.DomainConfig
	logger    *slog.Logger
}

// NewService wires the validator and the ownership verifiers by method.
func NewService(validator *Validator, clk clock.Clock, cfg config.DomainConfig, logger *slog.Logger, verifiers ...OwnershipVerifier) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	byMethod := make(map[models.ValidationMethod]OwnershipVerifier, len(verifiers))
	for _, v := range verifiers {
		byMethod[v.Method()] = v
	}
	return &Service{
		validator: validator,
		verifiers: byMethod,
		clock:     clk,
		cfg:       cfg,
		logger:    logger.With("component", "domain_service"),
	}
}

// Validator exposes the format checker.
func (s *Service) Validator() *Validator { return s.validator }

// IsLocal reports whether domain is a development domain, optionally
// resolving it when resolution is enabled.
func (s *Service) IsLocal(ctx context.Context, domain string) bool {
	if s.validator.IsLocalDomain(domain) {
		return true
	}
	return s.cfg.ResolveLocal && s.validator.ResolvesLocal(ctx, domain)
}

// ValidateDomain normalizes raw and runs the claim checks in order: format,
// plan restrictions, collision with another license, duplicate on this
// license. Stale inactive rows for the domain are then removed.
func (s *Service) ValidateDomain(ctx context.Context, tx repository.Store, lic *models.License, plan *models.LicensePlan, raw string) (string, error) {
	domain := Normalize(raw)
	if !s.validator.IsValidDomain(domain) {
		return "", newError(ErrInvalidDomain, strings.TrimSpace(raw), "")
	}

	local := s.IsLocal(ctx, domain)
	if err := s.CheckRestrictions(lic, plan, domain, local); err != nil {
		return "", err
	}

	active, err := tx.FindActiveDomain(ctx, domain)
	switch {
	case err == nil && active.LicenseID != lic.ID:
		return "", newError(ErrDomainConflict, domain, "")
	case err == nil:
		return "", newError(ErrAlreadyActive, domain, "")
	case !errors.Is(err, repository.ErrNotFound):
		return "", err
	}

	if s.cfg.StaleDomainAge > 0 {
		removed, err := tx.DeleteStaleDomains(ctx, domain, s.clock.Now().Add(-s.cfg.StaleDomainAge))
		if err != nil {
			return "", err
		}
		if removed > 0 {
			s.logger.DebugContext(ctx, "removed stale domain rows", "domain", domain, "count", removed)
		}
	}
	return domain, nil
}

// CheckRestrictions applies the plan's local-domain switch and the domain
// patterns of the plan and the license. Local domains skip patterns.
func (s *Service) CheckRestrictions(lic *models.License, plan *models.LicensePlan, domain string, local bool) error {
	if local {
		if plan != nil && !plan.AllowLocalDomains {
			return newError(ErrLocalNotAllowed, domain, "")
		}
		return nil
	}

	var patterns []string
	if plan != nil {
		patterns = append(patterns, plan.DomainPatterns...)
	}
	if lic != nil {
		if p := lic.Restriction(PatternRestriction); p != "" {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return nil
	}
	for _, p := range patterns {
		if MatchPattern(p, domain) {
			return nil
		}
	}
	return newError(ErrPatternMismatch, domain, "allowed: "+strings.Join(patterns, ", "))
}

// MatchPattern matches domain against a glob. A leading "*." also matches
// the bare parent domain.
func MatchPattern(pattern, domain string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		parent := pattern[2:]
		if domain == parent || strings.HasSuffix(domain, "."+parent) {
			return true
		}
	}
	ok, err := path.Match(pattern, domain)
	return err == nil && ok
}

// ClaimDomain validates raw and binds it, active, to the license and
// optionally to an activation. The database's active-domain index rejects
// a concurrent claim of the same domain.
func (s *Service) ClaimDomain(ctx context.Context, tx repository.Store, lic *models.License, plan *models.LicensePlan, raw string, activationID *uint) (*models.LicenseDomain, error) {
	domain, err := s.ValidateDomain(ctx, tx, lic, plan, raw)
	if err != nil {
		return nil, err
	}
	local := s.IsLocal(ctx, domain)
	if err := s.checkCapacity(ctx, tx, lic, plan, domain, local); err != nil {
		return nil, err
	}

	activeCount, err := tx.CountActiveDomains(ctx, lic.ID, false)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	next := now.Add(s.cfg.VerificationFreshness)
	d, err := tx.FindLicenseDomain(ctx, lic.ID, domain)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		d = &models.LicenseDomain{LicenseID: lic.ID, Domain: domain}
	case err != nil:
		return nil, err
	}

	d.ActivationID = activationID
	d.IsActive = true
	d.IsLocal = local
	d.IsPrimary = activeCount == 0
	d.LastCheckIn = &now
	d.NextCheckIn = &next
	d.FailedChecks = 0
	d.DeactivatedAt = nil
	d.DeactivationReason = ""
	if plan != nil {
		d.AllowSubdomains = plan.AllowSubdomains
		d.MaxSubdomains = plan.SubdomainsPerSeat
	}

	if d.ID == 0 {
		err = tx.CreateDomain(ctx, d)
	} else {
		err = tx.UpdateDomain(ctx, d)
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, newError(ErrDomainConflict, domain, "")
	}
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "domain claimed",
		"license_id", lic.ID,
		"domain", domain,
		"local", local)
	return d, nil
}

// checkCapacity enforces the production-domain quota and root uniqueness.
// Local domains are exempt from both.
func (s *Service) checkCapacity(ctx context.Context, tx repository.Store, lic *models.License, plan *models.LicensePlan, domain string, local bool) error {
	if local {
		return nil
	}

	quota := plan.DomainQuota(lic.PurchasedSeats)
	if quota != models.UnlimitedSeats {
		used, err := tx.CountActiveDomains(ctx, lic.ID, true)
		if err != nil {
			return err
		}
		if used >= quota {
			return newError(ErrQuotaExceeded, domain, fmt.Sprintf("%d of %d production domains in use", used, quota))
		}
	}

	if plan != nil && plan.AllowSubdomains {
		return nil
	}
	active, err := tx.ListDomains(ctx, lic.ID, true)
	if err != nil {
		return err
	}
	root := s.validator.RootDomain(domain)
	for _, d := range active {
		if d.IsLocal || d.Domain == domain {
			continue
		}
		if s.validator.RootDomain(d.Domain) == root {
			return newError(ErrRootDomainTaken, domain, "already bound: "+d.Domain)
		}
	}
	return nil
}

// AddDomain records raw as a pending domain awaiting ownership proof and
// returns what the owner must publish.
func (s *Service) AddDomain(ctx context.Context, tx repository.Store, lic *models.License, plan *models.LicensePlan, raw string, method models.ValidationMethod) (*models.LicenseDomain, Challenge, error) {
	verifier, ok := s.verifiers[method]
	if !ok {
		return nil, Challenge{}, newError(ErrUnsupportedMethod, string(method), "")
	}

	domain, err := s.ValidateDomain(ctx, tx, lic, plan, raw)
	if err != nil {
		return nil, Challenge{}, err
	}

	token, err := newToken()
	if err != nil {
		return nil, Challenge{}, fmt.Errorf("generate verification token: %w", err)
	}
	challenge := verifier.Challenge(domain, token)

	d, err := tx.FindLicenseDomain(ctx, lic.ID, domain)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		d = &models.LicenseDomain{LicenseID: lic.ID, Domain: domain}
	case err != nil:
		return nil, Challenge{}, err
	}

	d.IsLocal = s.IsLocal(ctx, domain)
	d.ValidationToken = token
	d.ValidationMethod = method
	d.ValidatedAt = nil
	d.ExpiresAt = nil
	d.DNSRecordType = challenge.RecordType
	d.DNSRecordValue = challenge.RecordValue
	if plan != nil {
		d.AllowSubdomains = plan.AllowSubdomains
		d.MaxSubdomains = plan.SubdomainsPerSeat
	}

	if d.ID == 0 {
		err = tx.CreateDomain(ctx, d)
	} else {
		err = tx.UpdateDomain(ctx, d)
	}
	if err != nil {
		return nil, Challenge{}, err
	}
	return d, challenge, nil
}

// CheckOwnership runs the domain's verifier. It performs network I/O and
// must be called outside a transaction.
func (s *Service) CheckOwnership(ctx context.Context, d *models.LicenseDomain) (Result, error) {
	verifier, ok := s.verifiers[d.ValidationMethod]
	if !ok {
		return Result{}, newError(ErrUnsupportedMethod, d.Domain, string(d.ValidationMethod))
	}
	if d.ValidationToken == "" {
		return Result{Reason: "no verification token issued"}, nil
	}
	res := verifier.Verify(ctx, d.Domain, d.ValidationToken)
	s.logger.InfoContext(ctx, "domain ownership checked",
		"license_id", d.LicenseID,
		"domain", d.Domain,
		"method", d.ValidationMethod,
		"verified", res.Verified,
		"reason", res.Reason)
	return res, nil
}

// ApplyOwnership persists the outcome of CheckOwnership. Success activates
// the domain for the freshness window. Failure counts against the domain
// and deactivates it once maxFailed is reached; deactivated reports that.
func (s *Service) ApplyOwnership(ctx context.Context, tx repository.Store, lic *models.License, plan *models.LicensePlan, d *models.LicenseDomain, res Result, maxFailed int) (deactivated bool, err error) {
	now := s.clock.Now()

	if !res.Verified {
		d.FailedChecks++
		columns := []string{"failed_checks", "updated_at"}
		if d.IsActive && maxFailed > 0 && d.FailedChecks >= maxFailed {
			d.IsActive = false
			d.DeactivatedAt = &now
			d.DeactivationReason = "ownership verification failed"
			columns = append(columns, "is_active", "deactivated_at", "deactivation_reason")
			deactivated = true
		}
		return deactivated, tx.UpdateDomain(ctx, d, columns...)
	}

	if !d.IsActive {
		active, err := tx.FindActiveDomain(ctx, d.Domain)
		switch {
		case err == nil && active.LicenseID != lic.ID:
			return false, newError(ErrDomainConflict, d.Domain, "")
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return false, err
		}
		if err := s.checkCapacity(ctx, tx, lic, plan, d.Domain, d.IsLocal); err != nil {
			return false, err
		}
	}

	expires := now.Add(s.cfg.VerificationFreshness)
	d.IsActive = true
	d.ValidatedAt = &now
	d.ExpiresAt = &expires
	d.LastCheckIn = &now
	d.NextCheckIn = &expires
	d.FailedChecks = 0
	d.DeactivatedAt = nil
	d.DeactivationReason = ""

	err = tx.UpdateDomain(ctx, d)
	if errors.Is(err, repository.ErrDuplicate) {
		return false, newError(ErrDomainConflict, d.Domain, "")
	}
	return false, err
}

// NeedsRefresh reports whether a verified domain's proof has gone stale.
func (s *Service) NeedsRefresh(d *models.LicenseDomain) bool {
	if !d.IsActive || d.ValidationMethod == "" || d.ValidatedAt == nil {
		return false
	}
	return !d.IsVerifiedAt(s.clock.Now())
}

// FindBinding returns the active domain row on the license that covers
// raw, either exactly or as an allowed subdomain of a bound domain.
func (s *Service) FindBinding(ctx context.Context, store repository.Store, lic *models.License, raw string) (*models.LicenseDomain, error) {
	domain := Normalize(raw)
	if domain == "" {
		return nil, newError(ErrInvalidDomain, raw, "")
	}

	active, err := store.ListDomains(ctx, lic.ID, true)
	if err != nil {
		return nil, err
	}
	for i := range active {
		if active[i].Domain == domain {
			return &active[i], nil
		}
	}
	for i := range active {
		d := &active[i]
		if !d.AllowSubdomains || !strings.HasSuffix(domain, "."+d.Domain) {
			continue
		}
		label := strings.TrimSuffix(domain, "."+d.Domain)
		if len(d.AllowedSubdomains) == 0 || contains(d.AllowedSubdomains, label) {
			return d, nil
		}
	}
	return nil, newError(ErrNotBound, domain, "")
}

// Freshness is how long a successful ownership proof stays valid.
func (s *Service) Freshness() time.Duration { return s.cfg.VerificationFreshness }

func contains(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
