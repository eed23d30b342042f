package license_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	"github.com/CodexShaper-Devs/license-sub000/internal/license"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

func TestService_DeactivateLicense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 2})

	res, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop", Domain: "laptop.example.com"})
	require.NoError(t, err)

	seats, err := f.svc.DeactivateLicense(ctx, lic.LicenseKey, res.ActivationToken, "")
	require.NoError(t, err)
	assert.Equal(t, 0, seats.Activated)
	assert.Equal(t, 2, seats.Remaining)

	_, err = f.svc.DeactivateLicense(ctx, lic.LicenseKey, res.ActivationToken, "")
	require.ErrorIs(t, err, license.ErrActivationNotFound)
	assert.Equal(t, license.KindNotFound, license.KindOf(err))

	details, err := f.svc.GetLicense(ctx, lic.LicenseKey)
	require.NoError(t, err)
	require.Len(t, details.Domains, 1)
	assert.False(t, details.Domains[0].IsActive)

	// the freed seat and domain can be claimed again
	_, err = f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "laptop", Domain: "laptop.example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.seats(t, lic.LicenseKey).Activated)
}

func TestService_DeactivateByDomain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 3})

	shop, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{Domain: "shop.com"})
	require.NoError(t, err)
	blog, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{Domain: "blog.org"})
	require.NoError(t, err)

	_, err = f.svc.DeactivateByDomain(ctx, lic.LicenseKey, "shop.com", blog.ActivationToken, "")
	require.ErrorIs(t, err, license.ErrTokenMismatch)
	assert.Equal(t, license.KindPolicyViolation, license.KindOf(err))
	assert.Equal(t, 2, f.seats(t, lic.LicenseKey).Activated)

	_, err = f.svc.DeactivateByDomain(ctx, lic.LicenseKey, "unknown.com", shop.ActivationToken, "")
	require.ErrorIs(t, err, license.ErrDomainNotFound)

	seats, err := f.svc.DeactivateByDomain(ctx, lic.LicenseKey, "https://www.shop.com", shop.ActivationToken, "moved")
	require.NoError(t, err)
	assert.Equal(t, 1, seats.Activated)
	assert.Equal(t, 1, f.seats(t, lic.LicenseKey).Activated)
	assert.Contains(t, eventTypes(t, f.svc, lic.LicenseKey), models.EventDomainDeactivated)
}

func TestService_DeactivateEntireLicense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: models.UnlimitedSeats})

	for _, device := range []string{"a", "b", "c", "d"} {
		_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: device})
		require.NoError(t, err)
	}
	before := f.seats(t, lic.LicenseKey)
	assert.True(t, before.Unlimited)
	assert.Equal(t, 4, before.Activated)

	seats, err := f.svc.DeactivateEntireLicense(ctx, lic.LicenseKey, "")
	require.NoError(t, err)
	assert.Zero(t, seats.Activated)

	_, err = f.svc.DeactivateEntireLicense(ctx, lic.LicenseKey, "")
	require.ErrorIs(t, err, license.ErrNoActiveSeats)
	assert.Equal(t, license.KindPolicyViolation, license.KindOf(err))
}

func TestService_BulkDeactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 5})

	for _, req := range []license.ActivationRequest{
		{Domain: "staging.acme.com"},
		{Domain: "acme.net"},
		{Domain: "other.io"},
		{DeviceIdentifier: "desktop"},
	} {
		_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, req)
		require.NoError(t, err)
	}

	n, seats, err := f.svc.BulkDeactivate(ctx, lic.LicenseKey, license.BulkFilter{Domain: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, seats.Activated)

	n, _, err = f.svc.BulkDeactivate(ctx, lic.LicenseKey, license.BulkFilter{Type: models.ActivationMachine})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, seats, err = f.svc.BulkDeactivate(ctx, lic.LicenseKey, license.BulkFilter{DeviceIdentifier: "missing"})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, seats.Activated)
	assert.Equal(t, 1, f.seats(t, lic.LicenseKey).Activated)
}

func TestService_SeatCounterTracksActivations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 4})

	var tokens []string
	for _, device := range []string{"a", "b", "c"} {
		res, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: device})
		require.NoError(t, err)
		tokens = append(tokens, res.ActivationToken)
		f.seats(t, lic.LicenseKey)
	}
	for _, token := range tokens[:2] {
		_, err := f.svc.DeactivateLicense(ctx, lic.LicenseKey, token, "")
		require.NoError(t, err)
		f.seats(t, lic.LicenseKey)
	}
	_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{DeviceIdentifier: "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.seats(t, lic.LicenseKey).Activated)
}

func TestService_CheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{})
	_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{Domain: "site.com"})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	first, err := f.svc.CheckIn(ctx, lic.LicenseKey, license.CheckInRequest{Domain: "site.com"})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), first.LastCheckIn)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), first.NextCheckIn)

	again, err := f.svc.CheckIn(ctx, lic.LicenseKey, license.CheckInRequest{Domain: "site.com"})
	require.NoError(t, err)
	assert.Equal(t, first, again)

	f.clock.Advance(time.Hour)
	later, err := f.svc.CheckIn(ctx, lic.LicenseKey, license.CheckInRequest{Domain: "site.com"})
	require.NoError(t, err)
	assert.True(t, later.NextCheckIn.After(first.NextCheckIn))
	assert.Equal(t, 1, f.seats(t, lic.LicenseKey).Activated)

	_, err = f.svc.CheckIn(ctx, lic.LicenseKey, license.CheckInRequest{})
	require.ErrorIs(t, err, license.ErrDomainRequired)
	assert.Equal(t, license.KindInvalidInput, license.KindOf(err))

	_, err = f.svc.CheckIn(ctx, lic.LicenseKey, license.CheckInRequest{Domain: "stranger.com"})
	require.ErrorIs(t, err, domains.ErrNotBound)
	assert.Equal(t, license.KindNotFound, license.KindOf(err))
}

func TestService_RecordFailedCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{MaxFailedChecks: 2, PurchasedSeats: 2})
	_, err := f.svc.ActivateLicense(ctx, lic.LicenseKey, license.ActivationRequest{Domain: "flaky.com"})
	require.NoError(t, err)

	d, err := f.svc.RecordFailedCheck(ctx, lic.LicenseKey, "flaky.com", "timeout")
	require.NoError(t, err)
	assert.True(t, d.IsActive)
	assert.Equal(t, 1, d.FailedChecks)

	d, err = f.svc.RecordFailedCheck(ctx, lic.LicenseKey, "flaky.com", "timeout")
	require.NoError(t, err)
	assert.False(t, d.IsActive)
	assert.Equal(t, 0, f.seats(t, lic.LicenseKey).Activated)

	_, err = f.svc.CheckIn(ctx, lic.LicenseKey, license.CheckInRequest{Domain: "flaky.com"})
	require.ErrorIs(t, err, domains.ErrNotBound)
}

func TestService_DomainOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 2})

	challenge, err := f.svc.AddDomain(ctx, lic.LicenseKey, "owned.com", models.ValidationFile)
	require.NoError(t, err)
	assert.Equal(t, "owned.com", challenge.Domain.Domain)
	assert.NotEmpty(t, challenge.Challenge.Token)
	assert.False(t, challenge.Domain.IsActive)

	_, err = f.svc.VerifyDomain(ctx, lic.LicenseKey, "owned.com")
	require.ErrorIs(t, err, license.ErrVerificationFailed)
	assert.Equal(t, license.KindPolicyViolation, license.KindOf(err))
	assert.Contains(t, eventTypes(t, f.svc, lic.LicenseKey), models.EventDomainVerifyFailed)

	f.file.published["owned.com"] = challenge.Challenge.Token
	d, err := f.svc.VerifyDomain(ctx, lic.LicenseKey, "owned.com")
	require.NoError(t, err)
	assert.True(t, d.IsActive)
	assert.True(t, d.IsVerifiedAt(f.clock.Now()))

	_, err = f.svc.VerifyDomain(ctx, lic.LicenseKey, "never-added.com")
	require.ErrorIs(t, err, license.ErrDomainNotFound)

	_, err = f.svc.AddDomain(ctx, lic.LicenseKey, "owned.com", "carrier-pigeon")
	require.ErrorIs(t, err, domains.ErrUnsupportedMethod)
	assert.Equal(t, license.KindInvalidInput, license.KindOf(err))
}

func TestService_RefreshDomainVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lic := f.create(t, models.LicensePlan{}, license.CreateRequest{PurchasedSeats: 3, MaxFailedChecks: 1})

	for _, domain := range []string{"kept.com", "lost.com"} {
		challenge, err := f.svc.AddDomain(ctx, lic.LicenseKey, domain, models.ValidationFile)
		require.NoError(t, err)
		f.file.published[domain] = challenge.Challenge.Token
		_, err = f.svc.VerifyDomain(ctx, lic.LicenseKey, domain)
		require.NoError(t, err)
	}

	report, err := f.svc.RefreshDomainVerification(ctx, lic.LicenseKey)
	require.NoError(t, err)
	assert.Zero(t, report.Checked, "fresh proofs are not re-checked")

	f.clock.Advance(31 * 24 * time.Hour)
	delete(f.file.published, "lost.com")

	report, err = f.svc.RefreshDomainVerification(ctx, lic.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, []string{"kept.com"}, report.Verified)
	assert.Equal(t, []string{"lost.com"}, report.Deactivated)
	assert.Empty(t, report.Failed)
}
