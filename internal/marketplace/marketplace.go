// Package marketplace verifies purchase codes with the store a license was
// sold through. Each source has its own Verifier, selected by Registry.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

var (
	ErrUnsupportedSource = errors.New("unsupported license source")
	ErrInvalidCode       = errors.New("invalid purchase code")
	ErrPurchaseNotFound  = errors.New("purchase not found")
	ErrUnavailable       = errors.New("marketplace unavailable")
)

const maxCodeLength = 191

// Purchase is a verified sale.
type Purchase struct {
	Source         models.LicenseSource `json:"source"`
	Code           string               `json:"code"`
	Buyer          string               `json:"buyer,omitempty"`
	SoldAt         *time.Time           `json:"sold_at,omitempty"`
	LicenseType    string               `json:"license_type,omitempty"`
	ItemID         string               `json:"item_id,omitempty"`
	ItemName       string               `json:"item_name,omitempty"`
	SupportedUntil *time.Time           `json:"supported_until,omitempty"`
	Verified       bool                 `json:"verified"`
}

// Map renders the purchase for storage in license restrictions.
func (p *Purchase) Map() map[string]any {
	m := map[string]any{
		"source":   string(p.Source),
		"verified": p.Verified,
	}
	if p.Buyer != "" {
		m["buyer"] = p.Buyer
	}
	if p.SoldAt != nil {
		m["sold_at"] = p.SoldAt.UTC().Format(time.RFC3339)
	}
	if p.LicenseType != "" {
		m["license_type"] = p.LicenseType
	}
	if p.ItemID != "" {
		m["item_id"] = p.ItemID
	}
	if p.SupportedUntil != nil {
		m["supported_until"] = p.SupportedUntil.UTC().Format(time.RFC3339)
	}
	return m
}

// Verifier checks a purchase code against one source.
type Verifier interface {
	Source() models.LicenseSource
	VerifyPurchase(ctx context.Context, code string) (*Purchase, error)
}

// Registry selects the verifier for a license source.
type Registry struct {
	verifiers map[models.LicenseSource]Verifier
}

func NewRegistry(verifiers ...Verifier) *Registry {
	r := &Registry{verifiers: make(map[models.LicenseSource]Verifier, len(verifiers))}
	for _, v := range verifiers {
		r.verifiers[v.Source()] = v
	}
	return r
}

// Verifier returns the verifier registered for source.
func (r *Registry) Verifier(source models.LicenseSource) (Verifier, error) {
	v, ok := r.verifiers[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, source)
	}
	return v, nil
}

// VerifyPurchase dispatches to the source's verifier.
func (r *Registry) VerifyPurchase(ctx context.Context, source models.LicenseSource, code string) (*Purchase, error) {
	v, err := r.Verifier(source)
	if err != nil {
		return nil, err
	}
	return v.VerifyPurchase(ctx, strings.TrimSpace(code))
}

// ManualVerifier accepts any well-formed code for sources without an API.
// The resulting purchase is marked unverified.
type ManualVerifier struct {
	source models.LicenseSource
}

func NewManualVerifier(source models.LicenseSource) *ManualVerifier {
	return &ManualVerifier{source: source}
}

func (v *ManualVerifier) Source() models.LicenseSource { return v.source }

func (v *ManualVerifier) VerifyPurchase(_ context.Context, code string) (*Purchase, error) {
	if code == "" || len(code) > maxCodeLength {
		return nil, ErrInvalidCode
	}
	return &Purchase{Source: v.source, Code: code}, nil
}
