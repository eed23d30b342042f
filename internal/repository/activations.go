package repository

import (
	"context"

	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

func (s *store) CreateActivation(ctx context.Context, a *models.LicenseActivation) error {
	return translate(s.conn(ctx).Create(a).Error, "create activation")
}

func (s *store) FindActivationByToken(ctx context.Context, licenseID uint, token string) (*models.LicenseActivation, error) {
	var a models.LicenseActivation
	err := s.conn(ctx).
		Where("license_id = ? AND activation_token = ?", licenseID, token).
		First(&a).Error
	if err != nil {
		return nil, translate(err, "find activation by token")
	}
	return &a, nil
}

func (s *store) FindActiveActivationByDevice(ctx context.Context, licenseID uint, device string) (*models.LicenseActivation, error) {
	var a models.LicenseActivation
	err := s.conn(ctx).
		Where("license_id = ? AND device_identifier = ? AND is_active = ?", licenseID, device, true).
		First(&a).Error
	if err != nil {
		return nil, translate(err, "find activation by device")
	}
	return &a, nil
}

func (s *store) FindActiveActivationByHardware(ctx context.Context, licenseID uint, hash string) (*models.LicenseActivation, error) {
	var a models.LicenseActivation
	err := s.conn(ctx).
		Where("license_id = ? AND hardware_hash = ? AND is_active = ?", licenseID, hash, true).
		Order("id DESC").
		First(&a).Error
	if err != nil {
		return nil, translate(err, "find activation by hardware")
	}
	return &a, nil
}

func (s *store) ListActiveActivations(ctx context.Context, licenseID uint, filter ActivationFilter) ([]models.LicenseActivation, error) {
	q := s.conn(ctx).Where("license_id = ? AND is_active = ?", licenseID, true)
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if len(filter.DeviceIdentifiers) > 0 {
		q = q.Where("device_identifier IN ?", filter.DeviceIdentifiers)
	}
	if filter.ActivatedBefore != nil {
		q = q.Where("activated_at < ?", *filter.ActivatedBefore)
	}
	if filter.CheckInBefore != nil {
		q = q.Where("COALESCE(last_check_in, activated_at) < ?", *filter.CheckInBefore)
	}

	var out []models.LicenseActivation
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, translate(err, "list activations")
	}
	return out, nil
}

func (s *store) CountActiveActivations(ctx context.Context, licenseID uint) (int, error) {
	var n int64
	err := s.conn(ctx).Model(&models.LicenseActivation{}).
		Where("license_id = ? AND is_active = ?", licenseID, true).
		Count(&n).Error
	if err != nil {
		return 0, translate(err, "count activations")
	}
	return int(n), nil
}

// CountHardwareHashes counts distinct machines ever bound to the license.
func (s *store) CountHardwareHashes(ctx context.Context, licenseID uint) (int, error) {
	var n int64
	err := s.conn(ctx).Model(&models.LicenseActivation{}).
		Where("license_id = ? AND hardware_hash <> ''", licenseID).
		Distinct("hardware_hash").
		Count(&n).Error
	if err != nil {
		return 0, translate(err, "count hardware hashes")
	}
	return int(n), nil
}

func (s *store) UpdateActivation(ctx context.Context, a *models.LicenseActivation, columns ...string) error {
	var err error
	if len(columns) == 0 {
		err = s.conn(ctx).Save(a).Error
	} else {
		err = s.conn(ctx).Model(a).Select(columns).Updates(a).Error
	}
	return translate(err, "update activation")
}
