// Package repository persists licenses, activations, domains and audit
// events through gorm, and fronts license lookups with a cache that is
// invalidated whenever a license row changes.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNoSeatAvailable is returned when a seat increment would exceed purchased seats.
	ErrNoSeatAvailable = errors.New("no seat available")
)

// ActivationFilter narrows ListActiveActivations.
type ActivationFilter struct {
	Type              models.ActivationType
	DeviceIdentifiers []string
	ActivatedBefore   *time.Time
	CheckInBefore     *time.Time
}

// Store is the set of persistence operations available both on the
// repository and inside a transaction.
type Store interface {
	FindLicenseByKey(ctx context.Context, key string) (*models.License, error)
	FindLicenseByID(ctx context.Context, id uint) (*models.License, error)
	LockLicense(ctx context.Context, id uint) (*models.License, error)
	CreateLicense(ctx context.Context, lic *models.License) error
	UpdateLicense(ctx context.Context, lic *models.License, columns ...string) error
	IncrementActivatedSeats(ctx context.Context, lic *models.License) error
	DecrementActivatedSeats(ctx context.Context, lic *models.License, n int) error
	RecountActivatedSeats(ctx context.Context, lic *models.License) error

	FindProduct(ctx context.Context, id uint) (*models.Product, error)
	FindPlan(ctx context.Context, id uint) (*models.LicensePlan, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	CreatePlan(ctx context.Context, p *models.LicensePlan) error

	CreateActivation(ctx context.Context, a *models.LicenseActivation) error
	FindActivationByToken(ctx context.Context, licenseID uint, token string) (*models.LicenseActivation, error)
	FindActiveActivationByDevice(ctx context.Context, licenseID uint, device string) (*models.LicenseActivation, error)
	FindActiveActivationByHardware(ctx context.Context, licenseID uint, hash string) (*models.LicenseActivation, error)
	ListActiveActivations(ctx context.Context, licenseID uint, filter ActivationFilter) ([]models.LicenseActivation, error)
	CountActiveActivations(ctx context.Context, licenseID uint) (int, error)
	CountHardwareHashes(ctx context.Context, licenseID uint) (int, error)
	UpdateActivation(ctx context.Context, a *models.LicenseActivation, columns ...string) error

	FindActiveDomain(ctx context.Context, domain string) (*models.LicenseDomain, error)
	FindLicenseDomain(ctx context.Context, licenseID uint, domain string) (*models.LicenseDomain, error)
	ListDomains(ctx context.Context, licenseID uint, activeOnly bool) ([]models.LicenseDomain, error)
	CountActiveDomains(ctx context.Context, licenseID uint, excludeLocal bool) (int, error)
	CreateDomain(ctx context.Context, d *models.LicenseDomain) error
	UpdateDomain(ctx context.Context, d *models.LicenseDomain, columns ...string) error
	DeactivateDomains(ctx context.Context, licenseID uint, activationID *uint, at time.Time, reason string) (int64, error)
	DeleteStaleDomains(ctx context.Context, domain string, before time.Time) (int64, error)

	LogEvent(ctx context.Context, e *models.LicenseEvent) error
	ListEvents(ctx context.Context, licenseID uint) ([]models.LicenseEvent, error)
}

// GormRepository is the gorm-backed Store with transactions and a license cache.
type GormRepository struct {
	*store
	logger *slog.Logger
	group  singleflight.Group
}

// New wraps db. A nil cache disables caching.
func New(db *gorm.DB, cache LicenseCache, logger *slog.Logger) *GormRepository {
	if cache == nil {
		cache = NoopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GormRepository{
		store: &store{
			db:       db,
			postgres: db.Dialector.Name() == "postgres",
			cache:    cache,
		},
		logger: logger.With("component", "repository"),
	}
}

// FindLicenseByKey serves from cache when possible. Concurrent misses for
// the same key share one database read.
func (r *GormRepository) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	if lic, ok := r.cache.Get(ctx, key); ok {
		return lic, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		lic, err := r.store.FindLicenseByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		r.cache.Set(ctx, key, lic)
		return lic, nil
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*models.License)
	return &cp, nil
}

// WithinTransaction runs fn in a database transaction. Cached entries for
// every license written inside fn are invalidated before it returns.
func (r *GormRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	txStore := &store{
		postgres: r.postgres,
		cache:    r.cache,
		touched:  make(map[string]struct{}),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore.db = tx
		return fn(ctx, txStore)
	})

	if len(txStore.touched) > 0 {
		keys := make([]string, 0, len(txStore.touched))
		for k := range txStore.touched {
			keys = append(keys, k)
		}
		r.cache.Invalidate(ctx, keys...)
	}
	return err
}

// Ping checks database connectivity.
func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// InvalidateLicense drops a cached license.
func (r *GormRepository) InvalidateLicense(ctx context.Context, key string) {
	r.cache.Invalidate(ctx, key)
}

// store implements Store on a *gorm.DB that is either the root handle or a transaction.
type store struct {
	db       *gorm.DB
	postgres bool
	cache    LicenseCache
	// touched collects license keys written inside a transaction; nil outside one.
	touched map[string]struct{}
}

func (s *store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// markTouched defers invalidation to commit inside a transaction and
// invalidates immediately otherwise.
func (s *store) markTouched(ctx context.Context, key string) {
	if s.touched != nil {
		s.touched[key] = struct{}{}
		return
	}
	s.cache.Invalidate(ctx, key)
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
