package license_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodexShaper-Devs/license-sub000/internal/clock"
	"github.com/CodexShaper-Devs/license-sub000/internal/config"
	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	"github.com/CodexShaper-Devs/license-sub000/internal/hardware"
	"github.com/CodexShaper-Devs/license-sub000/internal/keys"
	"github.com/CodexShaper-Devs/license-sub000/internal/license"
	"github.com/CodexShaper-Devs/license-sub000/internal/marketplace"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/repository"
	"github.com/CodexShaper-Devs/license-sub000/internal/security"
	"github.com/CodexShaper-Devs/license-sub000/internal/testutil"
)

type stubVerifier struct {
	published map[string]string
}

func (s *stubVerifier) Method() models.ValidationMethod { return models.ValidationFile }

func (s *stubVerifier) Challenge(domain, token string) domains.Challenge {
	return domains.Challenge{Method: models.ValidationFile, Token: token, FileContent: token}
}

func (s *stubVerifier) Verify(_ context.Context, domain, token string) domains.Result {
	if s.published[domain] == token {
		return domains.Result{Verified: true}
	}
	return domains.Result{Reason: "token not published"}
}

type fixture struct {
	svc   *license.Service
	repo  *repository.GormRepository
	clock *clock.FakeClock
	file  *stubVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  testutil.NewRepository(t),
		clock: clock.Fake(testutil.Epoch),
		file:  &stubVerifier{published: map[string]string{}},
	}
	f.svc = f.service(t, keys.NewMemoryStorage())
	return f
}

// service builds a Service over the fixture's database with its own key storage.
func (f *fixture) service(t *testing.T, storage keys.BlobStorage) *license.Service {
	t.Helper()
	return f.serviceAt(t, storage, config.DefaultKeyVersion)
}

// serviceAt is service with new keys written under keyVersion.
func (f *fixture) serviceAt(t *testing.T, storage keys.BlobStorage, keyVersion string) *license.Service {
	t.Helper()
	cfg := config.Default()
	logger := testutil.Logger()

	km := keys.NewManager(storage, keyVersion, cfg.Keys.Algorithm, f.clock, logger)
	engine, err := security.NewEngine(km, cfg.Keys.Algorithm, logger)
	require.NoError(t, err)

	validator := domains.NewValidator(config.LocalDomainSuffixes, nil, time.Second, logger)
	limiter := hardware.NewMemoryLimiter(cfg.Hardware.MaxAttempts, cfg.Hardware.AttemptWindow, f.clock)

	return license.NewService(license.Dependencies{
		Repository:  f.repo,
		Security:    license.NewSecurityService(km, engine, cfg.Keys.Algorithm, f.clock, logger),
		Domains:     domains.NewService(validator, f.clock, cfg.Domain, logger, f.file),
		Hardware:    hardware.NewValidator(limiter, f.clock, cfg.Hardware, cfg.License.CheckInInterval, logger),
		Marketplace: marketplace.NewRegistry(marketplace.NewManualVerifier(models.SourceOther)),
		Clock:       f.clock,
		Config:      cfg.License,
		Logger:      logger,
	})
}

func (f *fixture) create(t *testing.T, plan models.LicensePlan, req license.CreateRequest) *models.License {
	t.Helper()
	product, p := testutil.SeedCatalog(t, f.repo, plan)
	req.ProductID = product.ID
	req.PlanID = &p.ID
	lic, err := f.svc.CreateLicense(context.Background(), req)
	require.NoError(t, err)
	return lic
}

func (f *fixture) seats(t *testing.T, key string) license.SeatSummary {
	t.Helper()
	details, err := f.svc.GetLicense(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, details.Activations, details.Seats.Activated)
	return details.Seats
}

func eventTypes(t *testing.T, svc *license.Service, key string) []models.EventType {
	t.Helper()
	events, err := svc.Events(context.Background(), key)
	require.NoError(t, err)
	out := make([]models.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}

func TestService_CreateLicense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 3})
	assert.True(t, license.IsFormattedKey(lic.LicenseKey))
	assert.Equal(t, models.StatusPending, lic.Status)
	assert.Equal(t, models.TypeSubscription, lic.Type)
	require.NotNil(t, lic.ValidUntil)
	assert.Equal(t, testutil.Epoch.AddDate(0, 0, 365), lic.ValidUntil.UTC())
	require.NotNil(t, lic.GracePeriodEndsAt)
	assert.Equal(t, lic.ValidUntil.Add(7*24*time.Hour), *lic.GracePeriodEndsAt)

	details, err := f.svc.GetLicense(ctx, lic.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, lic.LicenseKey, details.Payload["license_key"])
	assert.Equal(t, 3, details.Seats.Total)
	assert.Equal(t, 0, details.Seats.Activated)

	assert.Equal(t, []models.EventType{models.EventCreated}, eventTypes(t, f.svc, lic.LicenseKey))
}

func TestService_CreateLicense_DuplicateKey(t *testing.T) {
	f := newFixture(t)
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{LicenseKey: "AAAA-BBBB-CCCC-DDDD"})

	_, err := f.svc.CreateLicense(context.Background(), license.CreateRequest{
		LicenseKey: lic.LicenseKey,
		ProductID:  lic.ProductID,
	})
	require.ErrorIs(t, err, license.ErrDuplicateLicense)
	assert.Equal(t, license.KindPolicyViolation, license.KindOf(err))
}

func TestService_CreateLicense_InvalidInput(t *testing.T) {
	f := newFixture(t)
	product, _ := testutil.SeedCatalog(t, f.repo, models.LicensePlan{})

	tests := []struct {
		name string
		req  license.CreateRequest
	}{
		{"missing product", license.CreateRequest{}},
		{"unknown product", license.CreateRequest{ProductID: product.ID + 100}},
		{"unknown type", license.CreateRequest{ProductID: product.ID, Type: "perpetual"}},
		{"negative seats", license.CreateRequest{ProductID: product.ID, PurchasedSeats: -2}},
		{"envato without purchase code", license.CreateRequest{ProductID: product.ID, Source: models.SourceEnvato}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateLicense(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, license.KindInvalidInput, license.KindOf(err))
		})
	}
}

func TestService_TamperedLicenseIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{})

	lic.Signature = strings.Repeat("0", len(lic.Signature))
	require.NoError(t, f.repo.UpdateLicense(ctx, lic, "signature"))

	_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop"})
	require.ErrorIs(t, err, license.ErrSecurityVerification)
	assert.Equal(t, license.KindSecurityVerification, license.KindOf(err))
	assert.Contains(t, eventTypes(t, f.svc, lic.LicenseKey), models.EventSecurityCheckFailed)
}

func TestService_MissingKeysAreFatal(t *testing.T) {
	f := newFixture(t)
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{})

	other := f.service(t, keys.NewMemoryStorage())
	_, err := other.ValidateLicense(context.Background(), lic.LicenseKey, license.ValidationRequest{})
	require.ErrorIs(t, err, license.ErrKeysMissing)
	assert.Equal(t, license.KindSecurityVerification, license.KindOf(err))

	_, err = other.GetLicense(context.Background(), lic.LicenseKey)
	require.ErrorIs(t, err, license.ErrKeysMissing)
}

func TestService_KeyRotationKeepsIssuedLicenses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storage := keys.NewMemoryStorage()

	f.svc = f.serviceAt(t, storage, "v1")
	old := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 2})
	_, err := f.svc.ActivateLicense(ctx, old.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop"})
	require.NoError(t, err)

	f.svc = f.serviceAt(t, storage, "v2")

	result, err := f.svc.ValidateLicense(ctx, old.LicenseKey, license.ValidationRequest{})
	require.NoError(t, err)
	assert.True(t, result.Valid)

	_, err = f.svc.ActivateLicense(ctx, old.LicenseKey, license.ActivationRequest{DeviceIdentifier: "desktop"})
	require.NoError(t, err)

	details, err := f.svc.GetLicense(ctx, old.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, "v1", details.Payload["key_version"])

	fresh := f.create(t, models.LicensePlan{}, license.CreateRequest{})
	assert.Equal(t, "v2", fresh.SecurityMetadata.Data().KeyVersion)
	assert.True(t, strings.HasPrefix(fresh.EncryptionKeyID, "v2."))
	assert.True(t, strings.HasPrefix(old.EncryptionKeyID, "v1."))
}

func TestService_UnknownLicense(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ValidateLicense(context.Background(), "NOPE-NOPE-NOPE-NOPE", license.ValidationRequest{})
	require.ErrorIs(t, err, license.ErrLicenseNotFound)
	assert.Equal(t, license.KindNotFound, license.KindOf(err))
}

func TestService_ActivateLicense_SeatLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 3})

	for i, device := range []string{"one", "two", "three"} {
		res, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: device})
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, res.Status)
		assert.Equal(t, i+1, res.Seats.Activated)
		assert.Equal(t, 3-(i+1), res.Seats.Remaining)
		assert.True(t, license.IsActivationToken(res.ActivationToken))
	}

	_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "four"})
	require.ErrorIs(t, err, license.ErrSeatLimitExceeded)
	assert.Equal(t, license.KindPolicyViolation, license.KindOf(err))
	assert.Contains(t, err.Error(), "3 of 3")

	assert.Equal(t, 3, f.seats(t, lic.LicenseKey).Activated)
}

func TestService_ActivateLicense_DeviceUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 5})

	_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop"})
	require.NoError(t, err)

	_, err = f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop"})
	require.ErrorIs(t, err, license.ErrDeviceAlreadyActive)
	assert.Equal(t, 1, f.seats(t, lic.LicenseKey).Activated)
}

func TestService_ActivateLicense_DomainConflictRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	licA := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 2})
	licB := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 2})

	res, err := f.svc.ActivateLicense(ctx, licA.LicenseKey, license.ActivationRequest{Domain: "https://www.Example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "example.com", res.Domain)

	_, err = f.svc.ActivateLicense(ctx, licB.LicenseKey, license.ActivationRequest{Domain: "example.com"})
	require.ErrorIs(t, err, license.ErrDomainConflict)
	assert.Equal(t, license.KindPolicyViolation, license.KindOf(err))

	details, err := f.svc.GetLicense(ctx, licB.LicenseKey)
	require.NoError(t, err)
	assert.Zero(t, details.Seats.Activated)
	assert.Empty(t, details.Activations)
	assert.Empty(t, details.Domains)
}

func TestService_ActivateLicense_RolledBackAttemptsCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 1})
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 5})
	machine := security.HardwareInfo{CPUID: "cpu-1", DiskID: "disk-1", MACAddress: "00:1a:2b:3c:4d:5e"}

	_, err := f.svc.ActivateLicense(ctx, owner.LicenseKey, license.ActivationRequest{Domain: "taken.com"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{
			DeviceIdentifier: fmt.Sprintf("device-%d", i),
			Domain:           "taken.com",
			HardwareInfo:     machine,
		})
		require.ErrorIs(t, err, license.ErrDomainConflict)
	}

	_, err = f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{
		DeviceIdentifier: "device-3",
		Domain:           "free.com",
		HardwareInfo:     machine,
	})
	require.ErrorIs(t, err, hardware.ErrTooManyAttempts)
	assert.Equal(t, license.KindPolicyViolation, license.KindOf(err))
	assert.Zero(t, f.seats(t, lic.LicenseKey).Activated)
}

func TestService_ActivateLicense_LocalDomainsSkipQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{MaxDomains: 1, AllowLocalDomains: true}, license.CreateRequest{PurchasedSeats: 4})

	_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{Domain: "myapp.com"})
	require.NoError(t, err)

	for _, local := range []string{"myapp.local", "myapp.test"} {
		res, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{Domain: local})
		require.NoError(t, err, local)
		assert.Equal(t, local, res.Domain)
	}

	_, err = f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{Domain: "other.com"})
	require.ErrorIs(t, err, domains.ErrQuotaExceeded)
	assert.Equal(t, license.KindPolicyViolation, license.KindOf(err))
	assert.Equal(t, 3, f.seats(t, lic.LicenseKey).Activated)
}

func TestService_ActivateLicense_Status(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, f *fixture, key string)
		want    error
	}{
		{
			name: "suspended",
			prepare: func(t *testing.T, f *fixture, key string) {
				_, err := f.svc.Suspend(context.Background(), key, "chargeback")
				require.NoError(t, err)
			},
			want: license.ErrLicenseSuspended,
		},
		{
			name: "cancelled",
			prepare: func(t *testing.T, f *fixture, key string) {
				_, err := f.svc.Cancel(context.Background(), key, "refund")
				require.NoError(t, err)
			},
			want: license.ErrLicenseCancelled,
		},
		{
			name: "expired past grace",
			prepare: func(t *testing.T, f *fixture, key string) {
				f.clock.Advance(400 * 24 * time.Hour)
			},
			want: license.ErrLicenseExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			lic := f.create(t, models.LicensePlan{}, license.CreateRequest{})
			tt.prepare(t, f, lic.LicenseKey)

			_, err := f.svc.ActivateLicense(context.Background(), lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop"})
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, license.KindStatusViolation, license.KindOf(err))
		})
	}
}

func TestService_ActivateLicense_NotYetValid(t *testing.T) {
	f := newFixture(t)
	from := testutil.Epoch.Add(48 * time.Hour)
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{ValidFrom: &from})

	_, err := f.svc.ActivateLicense(context.Background(), lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop"})
	require.ErrorIs(t, err, license.ErrNotYetValid)

	f.clock.Advance(72 * time.Hour)
	_, err = f.svc.ActivateLicense(context.Background(), lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop"})
	require.NoError(t, err)
}

func TestService_Trial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{Type: models.TypeTrial, TrialDays: 14})
	require.NotNil(t, lic.TrialEndsAt)
	assert.Equal(t, testutil.Epoch.AddDate(0, 0, 14), lic.TrialEndsAt.UTC())

	res, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusTrial, res.Status)

	_, err = f.svc.RenewLicense(ctx, lic.LicenseKey, license.RenewRequest{})
	require.ErrorIs(t, err, license.ErrNotEligibleForRenewal)
	assert.Equal(t, license.KindPolicyViolation, license.KindOf(err))

	f.clock.Advance(15 * 24 * time.Hour)
	result, err := f.svc.ValidateLicense(ctx, lic.LicenseKey, license.ValidationRequest{})
	require.ErrorIs(t, err, license.ErrLicenseExpired)
	require.NotNil(t, result)
	assert.False(t, result.Valid)
	assert.Equal(t, models.StatusExpired, result.Status)
}

func TestService_ValidateLicense_GracePeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	until := testutil.Epoch.Add(10 * 24 * time.Hour)
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{ValidUntil: &until})
	_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop"})
	require.NoError(t, err)

	// valid_until was yesterday, grace ends in six days
	f.clock.Advance(11 * 24 * time.Hour)
	result, err := f.svc.ValidateLicense(ctx, lic.LicenseKey, license.ValidationRequest{})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, models.StatusGracePeriod, result.Status)
	assert.Contains(t, eventTypes(t, f.svc, lic.LicenseKey), models.EventGracePeriodStarted)

	f.clock.Advance(7 * 24 * time.Hour)
	result, err = f.svc.ValidateLicense(ctx, lic.LicenseKey, license.ValidationRequest{})
	require.ErrorIs(t, err, license.ErrLicenseExpired)
	assert.False(t, result.Valid)
	assert.Equal(t, models.StatusExpired, result.Status)
}

func TestService_ValidateLicense_PendingNeverEntersGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	until := testutil.Epoch.Add(10 * 24 * time.Hour)
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{ValidUntil: &until})

	f.clock.Advance(11 * 24 * time.Hour)
	result, err := f.svc.ValidateLicense(ctx, lic.LicenseKey, license.ValidationRequest{})
	require.ErrorIs(t, err, license.ErrLicenseInactive)
	assert.False(t, result.Valid)
	assert.Equal(t, models.StatusPending, result.Status)
	assert.NotContains(t, eventTypes(t, f.svc, lic.LicenseKey), models.EventGracePeriodStarted)
}

func TestService_ValidateLicense_FailureIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{})

	result, err := f.svc.ValidateLicense(ctx, lic.LicenseKey, license.ValidationRequest{})
	require.ErrorIs(t, err, license.ErrLicenseInactive)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Reason)
	assert.Contains(t, eventTypes(t, f.svc, lic.LicenseKey), models.EventValidationFailed)
}

func TestService_ValidateLicense_Domain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 2})
	_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{Domain: "shop.example.com"})
	require.NoError(t, err)

	result, err := f.svc.ValidateLicense(ctx, lic.LicenseKey, license.ValidationRequest{Domain: "https://shop.example.com/cart"})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "shop.example.com", result.Domain)

	result, err = f.svc.ValidateLicense(ctx, lic.LicenseKey, license.ValidationRequest{Domain: "elsewhere.com"})
	require.ErrorIs(t, err, domains.ErrNotBound)
	assert.Equal(t, license.KindNotFound, license.KindOf(err))
	assert.False(t, result.Valid)
}

func TestService_ValidateLicense_Hardware(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{})
	machine := security.HardwareInfo{CPUID: "cpu-1", DiskID: "disk-1", MACAddress: "00:1a:2b:3c:4d:5e", BIOSID: "bios-1"}
	_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "workstation", HardwareInfo: machine})
	require.NoError(t, err)

	result, err := f.svc.ValidateLicense(ctx, lic.LicenseKey, license.ValidationRequest{HardwareInfo: machine})
	require.NoError(t, err)
	assert.True(t, result.Valid)

	stranger := security.HardwareInfo{CPUID: "cpu-9", DiskID: "disk-9", MACAddress: "00:00:00:00:00:09", BIOSID: "bios-9"}
	result, err = f.svc.ValidateLicense(ctx, lic.LicenseKey, license.ValidationRequest{HardwareInfo: stranger})
	require.ErrorIs(t, err, license.ErrHardwareMismatch)
	assert.False(t, result.Valid)
	assert.Contains(t, eventTypes(t, f.svc, lic.LicenseKey), models.EventHardwareMismatch)
}

func TestService_Renew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	until := testutil.Epoch.Add(10 * 24 * time.Hour)
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{ValidUntil: &until})

	renewed, err := f.svc.RenewLicense(ctx, lic.LicenseKey, license.RenewRequest{Period: models.BillingMonthly})
	require.NoError(t, err)
	require.NotNil(t, renewed.ValidUntil)
	assert.Equal(t, until.AddDate(0, 1, 0), renewed.ValidUntil.UTC())
	assert.Equal(t, 1, renewed.RenewalCount)

	_, err = f.svc.RenewLicense(ctx, lic.LicenseKey, license.RenewRequest{})
	require.ErrorIs(t, err, license.ErrNotEligibleForRenewal, "window has not opened for the new end date")
}

func TestService_Renew_LapsedLicense(t *testing.T) {
	for _, validateFirst := range []bool{false, true} {
		t.Run(fmt.Sprintf("validate first %t", validateFirst), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			until := testutil.Epoch.Add(10 * 24 * time.Hour)
			lic := f.create(t, models.LicensePlan{GracePeriodDays: 3}, license.CreateRequest{ValidUntil: &until})
			_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop"})
			require.NoError(t, err)

			// five days past valid_until: grace is over, the renewal window is still open
			f.clock.Advance(15 * 24 * time.Hour)
			if validateFirst {
				_, err := f.svc.ValidateLicense(ctx, lic.LicenseKey, license.ValidationRequest{})
				require.ErrorIs(t, err, license.ErrLicenseExpired)
			}

			renewed, err := f.svc.RenewLicense(ctx, lic.LicenseKey, license.RenewRequest{Period: models.BillingMonthly})
			require.NoError(t, err)
			assert.Equal(t, models.StatusActive, renewed.Status)
			require.NotNil(t, renewed.ValidUntil)
			assert.Equal(t, f.clock.Now().AddDate(0, 1, 0), renewed.ValidUntil.UTC())

			result, err := f.svc.ValidateLicense(ctx, lic.LicenseKey, license.ValidationRequest{})
			require.NoError(t, err)
			assert.True(t, result.Valid)
		})
	}
}

func TestService_Renew_WindowClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	until := testutil.Epoch.Add(10 * 24 * time.Hour)
	lic := f.create(t, models.LicensePlan{GracePeriodDays: 3}, license.CreateRequest{ValidUntil: &until})

	f.clock.Advance(18 * 24 * time.Hour)
	_, err := f.svc.RenewLicense(ctx, lic.LicenseKey, license.RenewRequest{})
	require.ErrorIs(t, err, license.ErrNotEligibleForRenewal)
	assert.Contains(t, err.Error(), "renewal window")
}

func TestService_SuspendReinstate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{})
	_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop"})
	require.NoError(t, err)

	_, err = f.svc.Reinstate(ctx, lic.LicenseKey, "")
	require.ErrorIs(t, err, license.ErrInvalidTransition)

	suspended, err := f.svc.Suspend(ctx, lic.LicenseKey, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, suspended.Status)

	result, err := f.svc.ValidateLicense(ctx, lic.LicenseKey, license.ValidationRequest{})
	require.ErrorIs(t, err, license.ErrLicenseSuspended)
	assert.False(t, result.Valid)

	reinstated, err := f.svc.Reinstate(ctx, lic.LicenseKey, "resolved")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, reinstated.Status)
}

func TestService_Cancel_ReleasesSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 3})
	for _, domain := range []string{"alpha.com", "beta.com"} {
		_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{Domain: domain})
		require.NoError(t, err)
	}

	cancelled, err := f.svc.Cancel(ctx, lic.LicenseKey, "refund")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	details, err := f.svc.GetLicense(ctx, lic.LicenseKey)
	require.NoError(t, err)
	assert.Zero(t, details.Seats.Activated)
	for _, d := range details.Domains {
		assert.False(t, d.IsActive, d.Domain)
	}

	_, err = f.svc.Reinstate(ctx, lic.LicenseKey, "")
	require.ErrorIs(t, err, license.ErrInvalidTransition)
}
