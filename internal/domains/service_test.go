package domains_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/CodexShaper-Devs/license-sub000/internal/clock"
	"github.com/CodexShaper-Devs/license-sub000/internal/config"
	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
	"github.com/CodexShaper-Devs/license-sub000/internal/testutil"
)

type stubVerifier struct {
	method    models.ValidationMethod
	published map[string]string
}

func (s *stubVerifier) Method() models.ValidationMethod { return s.method }

func (s *stubVerifier) Challenge(domain, token string) domains.Challenge {
	return domains.Challenge{Method: s.method, Token: token, FileContent: token}
}

func (s *stubVerifier) Verify(_ context.Context, domain, token string) domains.Result {
	if s.published[domain] == token {
		return domains.Result{Verified: true}
	}
	return domains.Result{Reason: "token not published"}
}

type serviceFixture struct {
	svc   *domains.Service
	repo  *repository.GormRepository
	clock *clock.FakeClock
	file  *stubVerifier
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	clk := clock.Fake(testutil.Epoch)
	cfg := config.Default().Domain
	file := &stubVerifier{method: models.ValidationFile, published: map[string]string{}}
	svc := domains.NewService(newValidator(nil), clk, cfg, testutil.Logger(), file)
	return &serviceFixture{svc: svc, repo: testutil.NewRepository(t), clock: clk, file: file}
}

func (f *serviceFixture) license(t *testing.T, seats int, plan models.LicensePlan) (*models.License, *models.LicensePlan) {
	t.Helper()
	product, p := testutil.SeedCatalog(t, f.repo, plan)
	lic := testutil.InsertLicense(t, f.repo, &models.License{
		ProductID:      product.ID,
		PlanID:         &p.ID,
		PurchasedSeats: seats,
	})
	return lic, p
}

func TestService_ClaimDomain_GlobalCollision(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	licA, planA := f.license(t, 3, models.LicensePlan{})
	licB, planB := f.license(t, 3, models.LicensePlan{})

	d, err := f.svc.ClaimDomain(ctx, f.repo, licA, planA, "https://www.Example.com/", nil)
	require.NoError(t, err)
	assert.Equal(t, "example.com", d.Domain)
	assert.True(t, d.IsActive)
	assert.True(t, d.IsPrimary)

	_, err = f.svc.ClaimDomain(ctx, f.repo, licB, planB, "example.com", nil)
	require.ErrorIs(t, err, domains.ErrDomainConflict)
	assert.Contains(t, err.Error(), "example.com")

	_, err = f.svc.ClaimDomain(ctx, f.repo, licA, planA, "EXAMPLE.com.", nil)
	assert.ErrorIs(t, err, domains.ErrAlreadyActive)
}

func TestService_ClaimDomain_LocalDomainsSkipQuota(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	lic, plan := f.license(t, 2, models.LicensePlan{AllowLocalDomains: true, MaxDomains: 1})

	_, err := f.svc.ClaimDomain(ctx, f.repo, lic, plan, "myapp.com", nil)
	require.NoError(t, err)

	_, err = f.svc.ClaimDomain(ctx, f.repo, lic, plan, "otherapp.com", nil)
	require.ErrorIs(t, err, domains.ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "1 of 1")

	d, err := f.svc.ClaimDomain(ctx, f.repo, lic, plan, "myapp.test", nil)
	require.NoError(t, err)
	assert.True(t, d.IsLocal)
	assert.False(t, d.IsPrimary)
}

func TestService_ClaimDomain_Restrictions(t *testing.T) {
	tests := []struct {
		name    string
		plan    models.LicensePlan
		domain  string
		wantErr error
	}{
		{
			name:    "local domain on plan without local allowance",
			plan:    models.LicensePlan{},
			domain:  "myapp.test",
			wantErr: domains.ErrLocalNotAllowed,
		},
		{
			name:   "pattern match",
			plan:   models.LicensePlan{DomainPatterns: datatypes.JSONSlice[string]{"*.example.com"}},
			domain: "shop.example.com",
		},
		{
			name:    "pattern mismatch",
			plan:    models.LicensePlan{DomainPatterns: datatypes.JSONSlice[string]{"*.example.com"}},
			domain:  "example.org",
			wantErr: domains.ErrPatternMismatch,
		},
		{
			name:   "local domain ignores patterns",
			plan:   models.LicensePlan{AllowLocalDomains: true, DomainPatterns: datatypes.JSONSlice[string]{"*.example.com"}},
			domain: "shop.localhost",
		},
		{
			name:    "invalid format",
			plan:    models.LicensePlan{},
			domain:  "not a domain",
			wantErr: domains.ErrInvalidDomain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			lic, plan := f.license(t, 3, tt.plan)

			_, err := f.svc.ClaimDomain(context.Background(), f.repo, lic, plan, tt.domain, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestService_ClaimDomain_LicensePatternRestriction(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	product, plan := testutil.SeedCatalog(t, f.repo, models.LicensePlan{})
	lic := testutil.InsertLicense(t, f.repo, &models.License{
		ProductID:      product.ID,
		PlanID:         &plan.ID,
		PurchasedSeats: 2,
		Restrictions:   datatypes.JSONMap{domains.PatternRestriction: "*.customer.io"},
	})

	_, err := f.svc.ClaimDomain(ctx, f.repo, lic, plan, "other.io", nil)
	assert.ErrorIs(t, err, domains.ErrPatternMismatch)

	_, err = f.svc.ClaimDomain(ctx, f.repo, lic, plan, "app.customer.io", nil)
	assert.NoError(t, err)
}

func TestService_ClaimDomain_RootUniqueness(t *testing.T) {
	t.Run("subdomains disallowed", func(t *testing.T) {
		f := newServiceFixture(t)
		lic, plan := f.license(t, 3, models.LicensePlan{})

		_, err := f.svc.ClaimDomain(context.Background(), f.repo, lic, plan, "example.com", nil)
		require.NoError(t, err)

		_, err = f.svc.ClaimDomain(context.Background(), f.repo, lic, plan, "blog.example.com", nil)
		require.ErrorIs(t, err, domains.ErrRootDomainTaken)
		assert.Contains(t, err.Error(), "already bound: example.com")
	})

	t.Run("subdomains allowed", func(t *testing.T) {
		f := newServiceFixture(t)
		lic, plan := f.license(t, 3, models.LicensePlan{AllowSubdomains: true})

		_, err := f.svc.ClaimDomain(context.Background(), f.repo, lic, plan, "example.com", nil)
		require.NoError(t, err)

		d, err := f.svc.ClaimDomain(context.Background(), f.repo, lic, plan, "blog.example.com", nil)
		require.NoError(t, err)
		assert.True(t, d.AllowSubdomains)
	})
}

func TestService_ClaimDomain_RemovesStaleRows(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	licA, planA := f.license(t, 1, models.LicensePlan{})
	licB, _ := f.license(t, 1, models.LicensePlan{})

	old := testutil.Epoch.Add(-60 * 24 * time.Hour)
	require.NoError(t, f.repo.CreateDomain(ctx, &models.LicenseDomain{
		LicenseID:     licB.ID,
		Domain:        "example.com",
		IsActive:      false,
		DeactivatedAt: &old,
	}))

	_, err := f.svc.ClaimDomain(ctx, f.repo, licA, planA, "example.com", nil)
	require.NoError(t, err)

	rows, err := f.repo.ListDomains(ctx, licB.ID, false)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestService_ClaimDomain_ReusesInactiveRow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	lic, plan := f.license(t, 1, models.LicensePlan{})

	first, err := f.svc.ClaimDomain(ctx, f.repo, lic, plan, "example.com", nil)
	require.NoError(t, err)
	_, err = f.repo.DeactivateDomains(ctx, lic.ID, nil, f.clock.Now(), "test")
	require.NoError(t, err)

	second, err := f.svc.ClaimDomain(ctx, f.repo, lic, plan, "example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IsActive)
	assert.Nil(t, second.DeactivatedAt)
}

func TestService_OwnershipFlow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	lic, plan := f.license(t, 2, models.LicensePlan{})

	d, challenge, err := f.svc.AddDomain(ctx, f.repo, lic, plan, "https://shop.example.com", models.ValidationFile)
	require.NoError(t, err)
	assert.False(t, d.IsActive)
	assert.NotEmpty(t, challenge.Token)
	assert.Equal(t, challenge.Token, d.ValidationToken)

	res, err := f.svc.CheckOwnership(ctx, d)
	require.NoError(t, err)
	assert.False(t, res.Verified)

	f.file.published["shop.example.com"] = challenge.Token
	res, err = f.svc.CheckOwnership(ctx, d)
	require.NoError(t, err)
	require.True(t, res.Verified)

	deactivated, err := f.svc.ApplyOwnership(ctx, f.repo, lic, plan, d, res, 3)
	require.NoError(t, err)
	assert.False(t, deactivated)

	stored, err := f.repo.FindLicenseDomain(ctx, lic.ID, "shop.example.com")
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	require.NotNil(t, stored.ExpiresAt)
	assert.WithinDuration(t, testutil.Epoch.Add(30*24*time.Hour), *stored.ExpiresAt, time.Second)
	assert.False(t, f.svc.NeedsRefresh(stored))

	f.clock.Advance(31 * 24 * time.Hour)
	assert.True(t, f.svc.NeedsRefresh(stored))
}

func TestService_OwnershipFailuresDeactivate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	lic, plan := f.license(t, 1, models.LicensePlan{})

	d, err := f.svc.ClaimDomain(ctx, f.repo, lic, plan, "example.com", nil)
	require.NoError(t, err)

	failed := domains.Result{Reason: "dns lookup timed out"}
	deactivated, err := f.svc.ApplyOwnership(ctx, f.repo, lic, plan, d, failed, 2)
	require.NoError(t, err)
	assert.False(t, deactivated)

	deactivated, err = f.svc.ApplyOwnership(ctx, f.repo, lic, plan, d, failed, 2)
	require.NoError(t, err)
	assert.True(t, deactivated)

	n, err := f.repo.CountActiveDomains(ctx, lic.ID, false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_AddDomain_UnsupportedMethod(t *testing.T) {
	f := newServiceFixture(t)
	lic, plan := f.license(t, 1, models.LicensePlan{})

	_, _, err := f.svc.AddDomain(context.Background(), f.repo, lic, plan, "example.com", models.ValidationDNS)
	assert.ErrorIs(t, err, domains.ErrUnsupportedMethod)
}

func TestService_FindBinding(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	lic, plan := f.license(t, 1, models.LicensePlan{AllowSubdomains: true})

	_, err := f.svc.ClaimDomain(ctx, f.repo, lic, plan, "example.com", nil)
	require.NoError(t, err)

	d, err := f.svc.FindBinding(ctx, f.repo, lic, "https://www.example.com/checkout")
	require.NoError(t, err)
	assert.Equal(t, "example.com", d.Domain)

	d, err = f.svc.FindBinding(ctx, f.repo, lic, "shop.example.com")
	require.NoError(t, err)
	assert.Equal(t, "example.com", d.Domain)

	_, err = f.svc.FindBinding(ctx, f.repo, lic, "example.org")
	assert.ErrorIs(t, err, domains.ErrNotBound)
}
