package repository

import (
	"context"

	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

func (s *store) LogEvent(ctx context.Context, e *models.LicenseEvent) error {
	return translate(s.conn(ctx).Create(e).Error, "log event")
}

func (s *store) ListEvents(ctx context.Context, licenseID uint) ([]models.LicenseEvent, error) {
	var out []models.LicenseEvent
	if err := s.conn(ctx).Where("license_id = ?", licenseID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, translate(err, "list events")
	}
	return out, nil
}
