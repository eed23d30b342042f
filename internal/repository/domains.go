package repository

import (
	"context"
	"time"

	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

// FindActiveDomain looks the domain up across all licenses.
func (s *store) FindActiveDomain(ctx context.Context, domain string) (*models.LicenseDomain, error) {
	var d models.LicenseDomain
	err := s.conn(ctx).Where("domain = ? AND is_active = ?", domain, true).First(&d).Error
	if err != nil {
		return nil, translate(err, "find active domain")
	}
	return &d, nil
}

// FindLicenseDomain returns the most recent row for domain on the license, active or not.
func (s *store) FindLicenseDomain(ctx context.Context, licenseID uint, domain string) (*models.LicenseDomain, error) {
	var d models.LicenseDomain
	err := s.conn(ctx).
		Where("license_id = ? AND domain = ?", licenseID, domain).
		Order("is_active DESC, id DESC").
		First(&d).Error
	if err != nil {
		return nil, translate(err, "find license domain")
	}
	return &d, nil
}

func (s *store) ListDomains(ctx context.Context, licenseID uint, activeOnly bool) ([]models.LicenseDomain, error) {
	q := s.conn(ctx).Where("license_id = ?", licenseID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []models.LicenseDomain
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, translate(err, "list domains")
	}
	return out, nil
}

func (s *store) CountActiveDomains(ctx context.Context, licenseID uint, excludeLocal bool) (int, error) {
	q := s.conn(ctx).Model(&models.LicenseDomain{}).Where("license_id = ? AND is_active = ?", licenseID, true)
	if excludeLocal {
		q = q.Where("is_local = ?", false)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, translate(err, "count domains")
	}
	return int(n), nil
}

func (s *store) CreateDomain(ctx context.Context, d *models.LicenseDomain) error {
	return translate(s.conn(ctx).Create(d).Error, "create domain")
}

func (s *store) UpdateDomain(ctx context.Context, d *models.LicenseDomain, columns ...string) error {
	var err error
	if len(columns) == 0 {
		err = s.conn(ctx).Save(d).Error
	} else {
		err = s.conn(ctx).Model(d).Select(columns).Updates(d).Error
	}
	return translate(err, "update domain")
}

// DeactivateDomains deactivates the license's active domains, optionally
// only those bound to one activation.
func (s *store) DeactivateDomains(ctx context.Context, licenseID uint, activationID *uint, at time.Time, reason string) (int64, error) {
	q := s.conn(ctx).Model(&models.LicenseDomain{}).Where("license_id = ? AND is_active = ?", licenseID, true)
	if activationID != nil {
		q = q.Where("activation_id = ?", *activationID)
	}
	res := q.Updates(map[string]any{
		"is_active":           false,
		"deactivated_at":      at,
		"deactivation_reason": reason,
		"updated_at":          at,
	})
	if res.Error != nil {
		return 0, translate(res.Error, "deactivate domains")
	}
	return res.RowsAffected, nil
}

// DeleteStaleDomains removes inactive rows for domain, on any license,
// that have not changed since before.
func (s *store) DeleteStaleDomains(ctx context.Context, domain string, before time.Time) (int64, error) {
	res := s.conn(ctx).
		Where("domain = ? AND is_active = ?", domain, false).
		Where("COALESCE(deactivated_at, updated_at) < ?", before).
		Delete(&models.LicenseDomain{})
	if res.Error != nil {
		return 0, translate(res.Error, "delete stale domains")
	}
	return res.RowsAffected, nil
}
