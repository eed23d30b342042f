package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

func (s *store) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	var lic models.License
	if err := s.conn(ctx).Where("license_key = ?", key).First(&lic).Error; err != nil {
		return nil, translate(err, "find license by key")
	}
	return &lic, nil
}

func (s *store) FindLicenseByID(ctx context.Context, id uint) (*models.License, error) {
	var lic models.License
	if err := s.conn(ctx).First(&lic, id).Error; err != nil {
		return nil, translate(err, "find license by id")
	}
	return &lic, nil
}

// LockLicense re-reads a license under a row lock where the database supports it.
func (s *store) LockLicense(ctx context.Context, id uint) (*models.License, error) {
	q := s.conn(ctx)
	if s.postgres {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var lic models.License
	if err := q.First(&lic, id).Error; err != nil {
		return nil, translate(err, "lock license")
	}
	return &lic, nil
}

func (s *store) CreateLicense(ctx context.Context, lic *models.License) error {
	if err := s.conn(ctx).Create(lic).Error; err != nil {
		return translate(err, "create license")
	}
	s.markTouched(ctx, lic.LicenseKey)
	return nil
}

// UpdateLicense writes the named columns, or every column when none are named.
func (s *store) UpdateLicense(ctx context.Context, lic *models.License, columns ...string) error {
	var err error
	if len(columns) == 0 {
		err = s.conn(ctx).Save(lic).Error
	} else {
		err = s.conn(ctx).Model(lic).Select(columns).Updates(lic).Error
	}
	if err != nil {
		return translate(err, "update license")
	}
	s.markTouched(ctx, lic.LicenseKey)
	return nil
}

// IncrementActivatedSeats claims one seat with a conditional update so
// concurrent activations can never push the count past purchased seats.
func (s *store) IncrementActivatedSeats(ctx context.Context, lic *models.License) error {
	res := s.conn(ctx).Model(&models.License{}).
		Where("id = ?", lic.ID).
		Where("purchased_seats = ? OR activated_seats < purchased_seats", models.UnlimitedSeats).
		Update("activated_seats", gorm.Expr("activated_seats + 1"))
	if res.Error != nil {
		return translate(res.Error, "increment activated seats")
	}
	s.markTouched(ctx, lic.LicenseKey)
	if res.RowsAffected == 0 {
		return ErrNoSeatAvailable
	}
	return s.reloadSeats(ctx, lic)
}

// DecrementActivatedSeats releases n seats, never going below zero.
func (s *store) DecrementActivatedSeats(ctx context.Context, lic *models.License, n int) error {
	if n <= 0 {
		return nil
	}
	res := s.conn(ctx).Model(&models.License{}).
		Where("id = ?", lic.ID).
		Update("activated_seats", gorm.Expr("CASE WHEN activated_seats >= ? THEN activated_seats - ? ELSE 0 END", n, n))
	if res.Error != nil {
		return translate(res.Error, "decrement activated seats")
	}
	s.markTouched(ctx, lic.LicenseKey)
	return s.reloadSeats(ctx, lic)
}

// RecountActivatedSeats sets activated_seats to the number of active activations.
func (s *store) RecountActivatedSeats(ctx context.Context, lic *models.License) error {
	count, err := s.CountActiveActivations(ctx, lic.ID)
	if err != nil {
		return err
	}
	if err := s.conn(ctx).Model(&models.License{}).
		Where("id = ?", lic.ID).
		Update("activated_seats", count).Error; err != nil {
		return translate(err, "recount activated seats")
	}
	s.markTouched(ctx, lic.LicenseKey)
	lic.ActivatedSeats = count
	return nil
}

func (s *store) reloadSeats(ctx context.Context, lic *models.License) error {
	var seats int
	if err := s.conn(ctx).Model(&models.License{}).
		Where("id = ?", lic.ID).
		Pluck("activated_seats", &seats).Error; err != nil {
		return fmt.Errorf("reload activated seats: %w", err)
	}
	lic.ActivatedSeats = seats
	return nil
}

func (s *store) FindProduct(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	if err := s.conn(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err, "find product")
	}
	return &p, nil
}

func (s *store) FindPlan(ctx context.Context, id uint) (*models.LicensePlan, error) {
	var p models.LicensePlan
	if err := s.conn(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err, "find plan")
	}
	return &p, nil
}

func (s *store) CreateProduct(ctx context.Context, p *models.Product) error {
	return translate(s.conn(ctx).Create(p).Error, "create product")
}

func (s *store) CreatePlan(ctx context.Context, p *models.LicensePlan) error {
	return translate(s.conn(ctx).Create(p).Error, "create plan")
}
