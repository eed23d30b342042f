package license

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"github.com/CodexShaper-Devs/license-sub000/internal/actor"
	"github.com/CodexShaper-Devs/license-sub000/internal/clock"
	"github.com/CodexShaper-Devs/license-sub000/internal/keys"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

const envelopeFormatVersion = "1"

// KeyManager is the subset of keys.Manager the security service needs.
type KeyManager interface {
	Version() string
	HasKeys(ctx context.Context, keyID string) (bool, error)
	GenerateKeys(ctx context.Context, keyID string) (*keys.Metadata, error)
}

// Crypto seals and authenticates payloads under a key id.
type Crypto interface {
	Encrypt(ctx context.Context, payload any, keyID string) (string, error)
	Decrypt(ctx context.Context, ciphertext, keyID string, out any) error
	Sign(ctx context.Context, data, keyID string) (string, error)
	Verify(ctx context.Context, data, signature, keyID string) (bool, error)
}

// SecureEnvelope is what gets persisted on a license to prove it was issued here.
type SecureEnvelope struct {
	LicenseKey      string
	SealedPayload   string
	Signature       string
	EncryptionKeyID string
	AuthKeyID       string
	Metadata        models.SecurityMetadata
}

// Apply copies the envelope onto lic.
func (e *SecureEnvelope) Apply(lic *models.License) {
	lic.LicenseKey = e.LicenseKey
	lic.SealedPayload = e.SealedPayload
	lic.Signature = e.Signature
	lic.EncryptionKeyID = e.EncryptionKeyID
	lic.AuthKeyID = e.AuthKeyID
	lic.SecurityMetadata = datatypes.NewJSONType(e.Metadata)
}

// VerificationContext describes why a license is being verified. It is
// only used for logging.
type VerificationContext struct {
	Operation string
	Domain    string
	IPAddress string
}

// SecurityService seals new licenses and verifies stored ones.
type SecurityService interface {
	CreateSecureLicense(ctx context.Context, licenseKey string, payload map[string]any) (*SecureEnvelope, error)
	VerifyLicenseSecurity(ctx context.Context, lic *models.License, vctx VerificationContext) (bool, error)
	OpenLicense(ctx context.Context, lic *models.License) (map[string]any, error)
}

// EnvelopeService implements SecurityService with per-license keys.
type EnvelopeService struct {
	keys   KeyManager
	crypto Crypto
	cipher string
	clock  clock.Clock
	logger *slog.Logger
}

func NewSecurityService(km KeyManager, crypto Crypto, cipherName string, clk clock.Clock, logger *slog.Logger) *EnvelopeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvelopeService{
		keys:   km,
		crypto: crypto,
		cipher: cipherName,
		clock:  clk,
		logger: logger.With("component", "license_security"),
	}
}

type sealedLicense struct {
	LicenseKey string         `json:"license_key"`
	Payload    map[string]any `json:"payload"`
	SealedAt   time.Time      `json:"sealed_at"`
	SealedBy   string         `json:"sealed_by"`
	Nonce      string         `json:"nonce"`
	KeyVersion string         `json:"key_version"`
}

// CreateSecureLicense encrypts payload under the key pair derived from
// licenseKey and signs the ciphertext. Keys are generated only when the
// derived key id has none yet.
func (s *EnvelopeService) CreateSecureLicense(ctx context.Context, licenseKey string, payload map[string]any) (*SecureEnvelope, error) {
	const op = "create_secure_license"
	version := s.keys.Version()
	keyID := keys.DeriveKeyID(licenseKey, version)

	exists, err := s.keys.HasKeys(ctx, keyID)
	if err != nil {
		return nil, classify(op, fmt.Errorf("check keys: %w", err))
	}
	if !exists {
		if _, err := s.keys.GenerateKeys(ctx, keyID); err != nil && !errors.Is(err, keys.ErrKeysExist) {
			return nil, classify(op, fmt.Errorf("generate keys: %w", err))
		}
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, classify(op, fmt.Errorf("generate nonce: %w", err))
	}
	meta := models.SecurityMetadata{
		Version:    envelopeFormatVersion,
		KeyVersion: version,
		Cipher:     s.cipher,
		SealedAt:   s.clock.Now(),
		SealedBy:   actor.FromContext(ctx).String(),
		Nonce:      hex.EncodeToString(nonce),
	}

	sealed, err := s.crypto.Encrypt(ctx, sealedLicense{
		LicenseKey: licenseKey,
		Payload:    payload,
		SealedAt:   meta.SealedAt,
		SealedBy:   meta.SealedBy,
		Nonce:      meta.Nonce,
		KeyVersion: version,
	}, keyID)
	if err != nil {
		return nil, classify(op, err)
	}
	signature, err := s.crypto.Sign(ctx, sealed, keyID)
	if err != nil {
		return nil, classify(op, err)
	}

	s.logger.InfoContext(ctx, "license sealed",
		"license_key", maskLicenseKey(licenseKey),
		"key_version", version)

	return &SecureEnvelope{
		LicenseKey:      licenseKey,
		SealedPayload:   sealed,
		Signature:       signature,
		EncryptionKeyID: keyID,
		AuthKeyID:       keyID,
		Metadata:        meta,
	}, nil
}

// VerifyLicenseSecurity checks that the stored key ids follow from the
// license key and that the signature authenticates the sealed payload.
// Tampering yields (false, nil). Missing keys for a sealed license are an
// integrity failure and are never regenerated.
func (s *EnvelopeService) VerifyLicenseSecurity(ctx context.Context, lic *models.License, vctx VerificationContext) (bool, error) {
	const op = "verify_license_security"
	logger := s.logger.With(
		"license_id", lic.ID,
		"operation", vctx.Operation,
	)

	if lic.SealedPayload == "" || lic.Signature == "" {
		logger.WarnContext(ctx, "license has no security envelope")
		return false, nil
	}

	version := lic.SecurityMetadata.Data().KeyVersion
	if version == "" {
		version = s.keys.Version()
	}
	keyID := keys.DeriveKeyID(lic.LicenseKey, version)
	if lic.EncryptionKeyID != keyID || lic.AuthKeyID != keyID {
		logger.WarnContext(ctx, "license key ids do not match their derivation")
		return false, nil
	}

	exists, err := s.keys.HasKeys(ctx, keyID)
	if err != nil {
		return false, classify(op, fmt.Errorf("check keys: %w", err))
	}
	if !exists {
		logger.ErrorContext(ctx, "key material missing for sealed license")
		return false, newError(KindSecurityVerification, op, ErrKeysMissing, "")
	}

	ok, err := s.crypto.Verify(ctx, lic.SealedPayload, lic.Signature, keyID)
	if err != nil {
		return false, classify(op, err)
	}
	if !ok {
		logger.WarnContext(ctx, "license signature mismatch", "domain", vctx.Domain, "ip_address", vctx.IPAddress)
	}
	return ok, nil
}

// OpenLicense verifies and decrypts the sealed payload for inspection.
func (s *EnvelopeService) OpenLicense(ctx context.Context, lic *models.License) (map[string]any, error) {
	const op = "open_license"
	ok, err := s.VerifyLicenseSecurity(ctx, lic, VerificationContext{Operation: op})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(KindSecurityVerification, op, ErrSecurityVerification, "")
	}

	var sealed sealedLicense
	if err := s.crypto.Decrypt(ctx, lic.SealedPayload, lic.EncryptionKeyID, &sealed); err != nil {
		return nil, classify(op, err)
	}
	if sealed.LicenseKey != lic.LicenseKey {
		return nil, newError(KindSecurityVerification, op, ErrSecurityVerification, "")
	}
	return map[string]any{
		"license_key": sealed.LicenseKey,
		"payload":     sealed.Payload,
		"sealed_at":   sealed.SealedAt,
		"sealed_by":   sealed.SealedBy,
		"key_version": sealed.KeyVersion,
	}, nil
}
