package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/chacha20poly1305"
)

// Supported AEAD ciphers.
const (
	CipherAES256GCM         = "aes-256-gcm"
	CipherXChaCha20Poly1305 = "xchacha20-poly1305"

	// KeySize is the length of every encryption and authentication key.
	KeySize = 32

	envelopeVersion = 1
)

var (
	ErrUnsupportedCipher   = errors.New("unsupported cipher")
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	ErrDecryptionFailed    = errors.New("decryption failed")
	ErrInvalidKey          = errors.New("invalid key material")
)

// CryptoError wraps a cryptographic failure with the operation and key it concerned.
type CryptoError struct {
	Op    string
	KeyID string
	Err   error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("security: %s (key %s): %v", e.Op, e.KeyID, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// KeyProvider resolves key material for a key id.
type KeyProvider interface {
	EncryptionKey(ctx context.Context, keyID string) ([]byte, error)
	AuthKey(ctx context.Context, keyID string) ([]byte, error)
}

// sealedEnvelope is the self-describing ciphertext format. It is JSON
// encoded and then base64 encoded so it can live in a text column.
type sealedEnvelope struct {
	Version int    `json:"v"`
	Cipher  string `json:"alg"`
	Nonce   []byte `json:"iv"`
	Value   []byte `json:"value"`
}

// Engine performs authenticated encryption and HMAC signing with per-license keys.
type Engine struct {
	keys   KeyProvider
	cipher string
	logger *slog.Logger
}

// NewEngine creates an Engine that seals new payloads with cipherName.
// Ciphertexts produced with either supported cipher can always be opened.
func NewEngine(keys KeyProvider, cipherName string, logger *slog.Logger) (*Engine, error) {
	if _, err := newAEAD(cipherName, make([]byte, KeySize)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		keys:   keys,
		cipher: cipherName,
		logger: logger.With("component", "crypto_engine"),
	}, nil
}

// Encrypt JSON-encodes payload and seals it with the encryption key of keyID.
// The key id is bound as additional data so a ciphertext cannot be replayed
// under another license's key.
func (e *Engine) Encrypt(ctx context.Context, payload any, keyID string) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", &CryptoError{Op: "encrypt", KeyID: keyID, Err: fmt.Errorf("encode payload: %w", err)}
	}

	key, err := e.keys.EncryptionKey(ctx, keyID)
	if err != nil {
		return "", &CryptoError{Op: "encrypt", KeyID: keyID, Err: err}
	}
	defer zero(key)

	aead, err := newAEAD(e.cipher, key)
	if err != nil {
		return "", &CryptoError{Op: "encrypt", KeyID: keyID, Err: err}
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", &CryptoError{Op: "encrypt", KeyID: keyID, Err: fmt.Errorf("generate nonce: %w", err)}
	}

	env := sealedEnvelope{
		Version: envelopeVersion,
		Cipher:  e.cipher,
		Nonce:   nonce,
		Value:   aead.Seal(nil, nonce, plaintext, []byte(keyID)),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", &CryptoError{Op: "encrypt", KeyID: keyID, Err: err}
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decrypt opens a ciphertext produced by Encrypt and JSON-decodes it into out.
func (e *Engine) Decrypt(ctx context.Context, ciphertext, keyID string, out any) error {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return &CryptoError{Op: "decrypt", KeyID: keyID, Err: ErrMalformedCiphertext}
	}

	var env sealedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version != envelopeVersion {
		return &CryptoError{Op: "decrypt", KeyID: keyID, Err: ErrMalformedCiphertext}
	}

	key, err := e.keys.EncryptionKey(ctx, keyID)
	if err != nil {
		return &CryptoError{Op: "decrypt", KeyID: keyID, Err: err}
	}
	defer zero(key)

	aead, err := newAEAD(env.Cipher, key)
	if err != nil {
		return &CryptoError{Op: "decrypt", KeyID: keyID, Err: err}
	}
	if len(env.Nonce) != aead.NonceSize() {
		return &CryptoError{Op: "decrypt", KeyID: keyID, Err: ErrMalformedCiphertext}
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Value, []byte(keyID))
	if err != nil {
		return &CryptoError{Op: "decrypt", KeyID: keyID, Err: ErrDecryptionFailed}
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return &CryptoError{Op: "decrypt", KeyID: keyID, Err: fmt.Errorf("decode payload: %w", err)}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of data under the auth key of keyID.
func (e *Engine) Sign(ctx context.Context, data, keyID string) (string, error) {
	key, err := e.keys.AuthKey(ctx, keyID)
	if err != nil {
		return "", &CryptoError{Op: "sign", KeyID: keyID, Err: err}
	}
	defer zero(key)

	return hex.EncodeToString(mac(key, data)), nil
}

// Verify reports whether signature authenticates data. A mismatch or a
// malformed signature is (false, nil); only key lookup failures return an error.
func (e *Engine) Verify(ctx context.Context, data, signature, keyID string) (bool, error) {
	key, err := e.keys.AuthKey(ctx, keyID)
	if err != nil {
		return false, &CryptoError{Op: "verify", KeyID: keyID, Err: err}
	}
	defer zero(key)

	got, err := hex.DecodeString(signature)
	if err != nil {
		e.logger.DebugContext(ctx, "signature is not valid hex", slog.String("key_id", keyID))
		return false, nil
	}
	return hmac.Equal(got, mac(key, data)), nil
}

func mac(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func newAEAD(cipherName string, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	switch cipherName {
	case CipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case CipherXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCipher, cipherName)
	}
}

// GenerateKey returns KeySize bytes from the system CSPRNG.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// SecureCompare performs constant-time comparison to prevent timing attacks
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
