package license

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/CodexShaper-Devs/license-sub000/internal/actor"
	"github.com/CodexShaper-Devs/license-sub000/internal/clock"
	"github.com/CodexShaper-Devs/license-sub000/internal/config"
	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	"github.com/CodexShaper-Devs/license-sub000/internal/hardware"
	"github.com/CodexShaper-Devs/license-sub000/internal/marketplace"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
)

// Repository is the persistence the service needs: the store operations
// plus a transactional unit of work.
type Repository interface {
	repository.Store
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error
}

// Dependencies wires a Service. Metrics and Marketplace are optional.
type Dependencies struct {
	Repository  Repository
	Security    SecurityService
	Domains     *domains.Service
	Hardware    *hardware.Validator
	Marketplace *marketplace.Registry
	Clock       clock.Clock
	Config      config.LicenseConfig
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Service orchestrates the license use cases. Every state change runs in
// one transaction together with its audit event.
type Service struct {
	repo        Repository
	security    SecurityService
	domains     *domains.Service
	hardware    *hardware.Validator
	marketplace *marketplace.Registry
	clock       clock.Clock
	cfg         config.LicenseConfig
	metrics     *Metrics
	logger      *slog.Logger
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		repo:        deps.Repository,
		security:    deps.Security,
		domains:     deps.Domains,
		hardware:    deps.Hardware,
		marketplace: deps.Marketplace,
		clock:       clk,
		cfg:         deps.Config,
		metrics:     deps.Metrics,
		logger:      logger.With("component", "license_service"),
	}
}

// opState carries the license an operation resolved, for failure logs.
type opState struct {
	lic *models.License
}

// run traces fn, classifies its error and logs the outcome.
func (s *Service) run(ctx context.Context, op, key string, fn func(ctx context.Context, st *opState) error) error {
	st := &opState{}
	started := s.clock.Now()
	err := s.trace(ctx, op, key, func(ctx context.Context) error {
		return classify(op, fn(ctx, st))
	})
	if err != nil {
		s.logFailure(ctx, op, key, st.lic, err)
		return err
	}
	s.logSuccess(ctx, op, key, st.lic, started)
	return nil
}

// lookup finds a license by key.
func (s *Service) lookup(ctx context.Context, op, key string) (*models.License, error) {
	if key == "" {
		return nil, newError(KindInvalidInput, op, ErrInvalidInput, "license key is required")
	}
	lic, err := s.repo.FindLicenseByKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindNotFound, op, ErrLicenseNotFound, "")
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return lic, nil
}

// authenticate verifies the security envelope of lic. A mismatch is
// audited outside any transaction so the record survives the failure.
func (s *Service) authenticate(ctx context.Context, op string, lic *models.License, vctx VerificationContext) error {
	vctx.Operation = op
	ok, err := s.security.VerifyLicenseSecurity(ctx, lic, vctx)
	if err == nil && ok {
		return nil
	}

	s.count(ctx, func(m *Metrics) metricCounter { return m.SecurityFailures }, 1)
	data := map[string]any{"operation": op}
	if err != nil {
		data["error_kind"] = string(KindOf(err))
	}
	if logErr := s.logEvent(ctx, s.repo, lic, models.EventSecurityCheckFailed, data); logErr != nil {
		s.logger.ErrorContext(ctx, "failed to record security event", "license_id", lic.ID, "error", logErr)
	}
	if err != nil {
		return classify(op, err)
	}
	return newError(KindSecurityVerification, op, ErrSecurityVerification, "")
}

// resolve is lookup followed by authenticate.
func (s *Service) resolve(ctx context.Context, op, key string, st *opState, vctx VerificationContext) (*models.License, error) {
	lic, err := s.lookup(ctx, op, strings.TrimSpace(key))
	if err != nil {
		return nil, err
	}
	st.lic = lic
	if err := s.authenticate(ctx, op, lic, vctx); err != nil {
		return nil, err
	}
	return lic, nil
}

// policy loads the product and the optional plan of lic.
func (s *Service) policy(ctx context.Context, store repository.Store, lic *models.License) (*models.Product, *models.LicensePlan, error) {
	product, err := store.FindProduct(ctx, lic.ProductID)
	if err != nil {
		return nil, nil, err
	}
	if lic.PlanID == nil {
		return product, nil, nil
	}
	plan, err := store.FindPlan(ctx, *lic.PlanID)
	if err != nil {
		return nil, nil, err
	}
	return product, plan, nil
}

func (s *Service) logEvent(ctx context.Context, store repository.Store, lic *models.License, typ models.EventType, data map[string]any) error {
	a := actor.FromContext(ctx)
	return store.LogEvent(ctx, &models.LicenseEvent{
		LicenseID: lic.ID,
		EventType: typ,
		EventData: data,
		Actor:     a.String(),
		IPAddress: a.IPAddress,
		UserAgent: a.UserAgent,
		RequestID: a.RequestID,
		CreatedAt: s.clock.Now(),
	})
}

// syncStatus persists a grace or expiry transition that the dates imply
// and returns the effective status.
func (s *Service) syncStatus(ctx context.Context, tx repository.Store, lic *models.License) (models.LicenseStatus, error) {
	effective := EffectiveStatus(lic, s.clock.Now())
	if effective == lic.Status || !CanTransition(lic.Status, effective) {
		return effective, nil
	}

	var event models.EventType
	switch effective {
	case models.StatusGracePeriod:
		event = models.EventGracePeriodStarted
	case models.StatusExpired:
		event = models.EventExpired
	default:
		return effective, nil
	}

	previous := lic.Status
	lic.Status = effective
	if err := tx.UpdateLicense(ctx, lic, "status", "updated_at"); err != nil {
		return effective, err
	}
	s.logger.InfoContext(ctx, "license status changed",
		"license_id", lic.ID,
		"from", previous,
		"to", effective)
	return effective, s.logEvent(ctx, tx, lic, event, map[string]any{
		"previous_status": string(previous),
	})
}

// gracePeriod resolves the grace window from plan, product and config.
func (s *Service) gracePeriod(product *models.Product, plan *models.LicensePlan) time.Duration {
	if plan != nil && plan.GracePeriodDays > 0 {
		return time.Duration(plan.GracePeriodDays) * 24 * time.Hour
	}
	if product != nil && product.GracePeriodDays > 0 {
		return time.Duration(product.GracePeriodDays) * 24 * time.Hour
	}
	return s.cfg.GracePeriod
}

func (s *Service) checkInInterval(product *models.Product) time.Duration {
	return product.CheckInInterval(s.cfg.CheckInInterval)
}
