// Package testutil builds throwaway databases and fixtures for package tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/CodexShaper-Devs/license-sub000/internal/config"
	"github.com/CodexShaper-Devs/license-sub000/internal/infrastructure"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
)

// Epoch is the fixed start time used by fake clocks in tests.
var Epoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

// Logger returns a logger that discards below error level.
func Logger() *slog.Logger {
	return infrastructure.NewLogger(&bytes.Buffer{}, "error")
}

// NewDB opens a private in-memory SQLite database with the full schema.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := repository.Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, Logger())
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(context.Background(), db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// NewRepository returns a repository over a fresh database with no cache.
func NewRepository(t *testing.T) *repository.GormRepository {
	t.Helper()
	return repository.New(NewDB(t), nil, Logger())
}

// SeedCatalog inserts a product and a plan and returns them.
func SeedCatalog(t *testing.T, repo repository.Store, plan models.LicensePlan) (*models.Product, *models.LicensePlan) {
	t.Helper()
	ctx := context.Background()

	product := &models.Product{
		Name:                 "Test Product",
		Slug:                 "test-product-" + uuid.NewString()[:8],
		CheckInIntervalHours: 24,
		GracePeriodDays:      7,
	}
	require.NoError(t, repo.CreateProduct(ctx, product))

	plan.ProductID = product.ID
	if plan.Name == "" {
		plan.Name = "Test Plan"
	}
	if plan.Slug == "" {
		plan.Slug = "test-plan-" + uuid.NewString()[:8]
	}
	if plan.BillingCycle == "" {
		plan.BillingCycle = models.BillingYearly
	}
	require.NoError(t, repo.CreatePlan(ctx, &plan))
	return product, &plan
}

// InsertLicense stores a license row directly, bypassing sealing.
func InsertLicense(t *testing.T, repo repository.Store, lic *models.License) *models.License {
	t.Helper()
	if lic.UUID == "" {
		lic.UUID = uuid.NewString()
	}
	if lic.LicenseKey == "" {
		lic.LicenseKey = "TEST-" + uuid.NewString()[:8]
	}
	if lic.Type == "" {
		lic.Type = models.TypeSubscription
	}
	if lic.Source == "" {
		lic.Source = models.SourceCustom
	}
	if lic.Status == "" {
		lic.Status = models.StatusActive
	}
	if lic.ValidFrom.IsZero() {
		lic.ValidFrom = Epoch.Add(-24 * time.Hour)
	}
	if lic.PurchasedSeats == 0 {
		lic.PurchasedSeats = 1
	}
	if lic.SealedPayload == "" {
		lic.SealedPayload = "unsealed"
	}
	if lic.Signature == "" {
		lic.Signature = "unsigned"
	}
	if lic.EncryptionKeyID == "" {
		lic.EncryptionKeyID = "none"
		lic.AuthKeyID = "none"
	}
	require.NoError(t, repo.CreateLicense(context.Background(), lic))
	return lic
}
