// Package keys manages per-license encryption and authentication keys.
//
// Every license key maps to a key id "<version>.<digest>" derived from the
// license key and the key version. Key material is generated once, stored
// base64 encoded in a BlobStorage under "<purpose>/<version>/<digest>", and
// never overwritten. Lookups take the version from the key id, so licenses
// sealed before a version change keep resolving their original keys.
package keys

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CodexShaper-Devs/license-sub000/internal/actor"
	"github.com/CodexShaper-Devs/license-sub000/internal/clock"
	"github.com/CodexShaper-Devs/license-sub000/internal/security"
)

const (
	purposeEncryption = "encryption"
	purposeAuth       = "auth"
	purposeMetadata   = "metadata"

	authAlgorithm = "hmac-sha256"
)

var (
	// ErrKeysNotFound means no key material exists for a key id.
	ErrKeysNotFound = errors.New("keys not found")
	// ErrKeysExist means GenerateKeys was asked to replace existing material.
	ErrKeysExist = errors.New("keys already exist")
	// ErrVersionMismatch means GenerateKeys got a key id for another version.
	ErrVersionMismatch = errors.New("key id belongs to another key version")
)

// Metadata records how and when a key pair was created.
type Metadata struct {
	KeyID         string    `json:"key_id"`
	Version       string    `json:"version"`
	Cipher        string    `json:"cipher"`
	AuthAlgorithm string    `json:"auth_algorithm"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by"`
}

// Manager generates and loads key material. It implements security.KeyProvider.
type Manager struct {
	storage BlobStorage
	version string
	cipher  string
	clock   clock.Clock
	logger  *slog.Logger
}

// NewManager creates a Manager that writes keys under version.
func NewManager(storage BlobStorage, version, cipher string, clk clock.Clock, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		storage: storage,
		version: version,
		cipher:  cipher,
		clock:   clk,
		logger:  logger.With("component", "key_manager"),
	}
}

// Version is the key version new license keys are bound to.
func (m *Manager) Version() string { return m.version }

// DeriveKeyID maps a license key and key version to a stable key id.
func DeriveKeyID(licenseKey, version string) string {
	sum := sha256.Sum256([]byte(version + ":" + licenseKey))
	return version + "." + hex.EncodeToString(sum[:16])
}

// KeyVersion returns the version a key id was derived under. Ids without a
// version prefix belong to the manager's current version.
func (m *Manager) KeyVersion(keyID string) string {
	version, _ := m.split(keyID)
	return version
}

func (m *Manager) split(keyID string) (version, digest string) {
	if i := strings.LastIndexByte(keyID, '.'); i > 0 {
		return keyID[:i], keyID[i+1:]
	}
	return m.version, keyID
}

func (m *Manager) path(purpose, keyID string) string {
	version, digest := m.split(keyID)
	return purpose + "/" + version + "/" + digest
}

// HasKeys reports whether both encryption and authentication keys exist.
func (m *Manager) HasKeys(ctx context.Context, keyID string) (bool, error) {
	for _, purpose := range []string{purposeEncryption, purposeAuth} {
		ok, err := m.storage.Exists(ctx, m.path(purpose, keyID))
		if err != nil {
			return false, fmt.Errorf("check %s key: %w", purpose, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// GenerateKeys creates fresh key material for keyID. It fails with
// ErrKeysExist rather than replacing keys that already protect data.
func (m *Manager) GenerateKeys(ctx context.Context, keyID string) (*Metadata, error) {
	if v := m.KeyVersion(keyID); v != m.version {
		return nil, fmt.Errorf("%w: %s is %s, current is %s", ErrVersionMismatch, keyID, v, m.version)
	}

	encKey, err := security.GenerateKey()
	if err != nil {
		return nil, err
	}
	authKey, err := security.GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := m.put(ctx, purposeEncryption, keyID, encKey); err != nil {
		return nil, err
	}
	if err := m.put(ctx, purposeAuth, keyID, authKey); err != nil {
		return nil, err
	}

	meta := &Metadata{
		KeyID:         keyID,
		Version:       m.version,
		Cipher:        m.cipher,
		AuthAlgorithm: authAlgorithm,
		CreatedAt:     m.clock.Now(),
		CreatedBy:     actor.FromContext(ctx).String(),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := m.storage.Put(ctx, m.path(purposeMetadata, keyID)+".json", raw); err != nil && !errors.Is(err, ErrBlobExists) {
		return nil, fmt.Errorf("store key metadata: %w", err)
	}

	m.logger.InfoContext(ctx, "generated license keys",
		slog.String("key_id", keyID),
		slog.String("version", m.version),
	)
	return meta, nil
}

func (m *Manager) put(ctx context.Context, purpose, keyID string, key []byte) error {
	encoded := []byte(base64.StdEncoding.EncodeToString(key))
	if err := m.storage.Put(ctx, m.path(purpose, keyID), encoded); err != nil {
		if errors.Is(err, ErrBlobExists) {
			return fmt.Errorf("%w: %s", ErrKeysExist, keyID)
		}
		return fmt.Errorf("store %s key: %w", purpose, err)
	}
	return nil
}

// EncryptionKey loads the AEAD key for keyID.
func (m *Manager) EncryptionKey(ctx context.Context, keyID string) ([]byte, error) {
	return m.load(ctx, purposeEncryption, keyID)
}

// AuthKey loads the HMAC key for keyID.
func (m *Manager) AuthKey(ctx context.Context, keyID string) ([]byte, error) {
	return m.load(ctx, purposeAuth, keyID)
}

// Metadata loads the creation record for keyID.
func (m *Manager) Metadata(ctx context.Context, keyID string) (*Metadata, error) {
	raw, err := m.storage.Get(ctx, m.path(purposeMetadata, keyID)+".json")
	if errors.Is(err, ErrBlobNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrKeysNotFound, keyID)
	}
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode key metadata: %w", err)
	}
	return &meta, nil
}

func (m *Manager) load(ctx context.Context, purpose, keyID string) ([]byte, error) {
	raw, err := m.storage.Get(ctx, m.path(purpose, keyID))
	if errors.Is(err, ErrBlobNotFound) {
		return nil, fmt.Errorf("%w: %s %s", ErrKeysNotFound, purpose, keyID)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s key: %w", purpose, err)
	}
	key, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil || len(key) != security.KeySize {
		return nil, fmt.Errorf("%w: %s key %s is corrupt", security.ErrInvalidKey, purpose, keyID)
	}
	return key, nil
}
