package security

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticKeys returns copies of fixed key material per key id.
type staticKeys struct {
	enc  map[string][]byte
	auth map[string][]byte
}

func newStaticKeys(ids ...string) *staticKeys {
	k := &staticKeys{enc: map[string][]byte{}, auth: map[string][]byte{}}
	for i, id := range ids {
		k.enc[id] = bytes.Repeat([]byte{byte(i + 1)}, KeySize)
		k.auth[id] = bytes.Repeat([]byte{byte(i + 101)}, KeySize)
	}
	return k
}

var errNoKey = errors.New("no key")

func (k *staticKeys) EncryptionKey(_ context.Context, id string) ([]byte, error) {
	key, ok := k.enc[id]
	if !ok {
		return nil, errNoKey
	}
	return append([]byte(nil), key...), nil
}

func (k *staticKeys) AuthKey(_ context.Context, id string) ([]byte, error) {
	key, ok := k.auth[id]
	if !ok {
		return nil, errNoKey
	}
	return append([]byte(nil), key...), nil
}

type samplePayload struct {
	LicenseKey string         `json:"license_key"`
	Seats      int            `json:"seats"`
	Features   map[string]any `json:"features"`
}

func TestEngineRoundTrip(t *testing.T) {
	for _, cipherName := range []string{CipherAES256GCM, CipherXChaCha20Poly1305} {
		t.Run(cipherName, func(t *testing.T) {
			engine, err := NewEngine(newStaticKeys("k1"), cipherName, nil)
			require.NoError(t, err)

			in := samplePayload{LicenseKey: "ABCD-EFGH", Seats: 3, Features: map[string]any{"pro": true}}
			ct, err := engine.Encrypt(context.Background(), in, "k1")
			require.NoError(t, err)

			var out samplePayload
			require.NoError(t, engine.Decrypt(context.Background(), ct, "k1", &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestEngineDecryptFailures(t *testing.T) {
	keys := newStaticKeys("k1", "k2")
	engine, err := NewEngine(keys, CipherAES256GCM, nil)
	require.NoError(t, err)

	ct, err := engine.Encrypt(context.Background(), map[string]string{"a": "b"}, "k1")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)

	tests := []struct {
		name       string
		ciphertext string
		keyID      string
		wantErr    error
	}{
		{name: "not base64", ciphertext: "%%%", keyID: "k1", wantErr: ErrMalformedCiphertext},
		{name: "not an envelope", ciphertext: base64.StdEncoding.EncodeToString([]byte("nope")), keyID: "k1", wantErr: ErrMalformedCiphertext},
		{name: "wrong key id", ciphertext: ct, keyID: "k2", wantErr: ErrDecryptionFailed},
		{name: "unknown key id", ciphertext: ct, keyID: "missing", wantErr: errNoKey},
		{name: "truncated envelope", ciphertext: base64.StdEncoding.EncodeToString(raw[:len(raw)-5]), keyID: "k1", wantErr: ErrMalformedCiphertext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out map[string]string
			err := engine.Decrypt(context.Background(), tt.ciphertext, tt.keyID, &out)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var cryptoErr *CryptoError
			assert.ErrorAs(t, err, &cryptoErr)
		})
	}
}

func TestEngineSignVerify(t *testing.T) {
	engine, err := NewEngine(newStaticKeys("k1", "k2"), CipherAES256GCM, nil)
	require.NoError(t, err)
	ctx := context.Background()

	sig, err := engine.Sign(ctx, "payload", "k1")
	require.NoError(t, err)
	assert.Len(t, sig, 64)

	tests := []struct {
		name      string
		data      string
		signature string
		keyID     string
		want      bool
		wantErr   bool
	}{
		{name: "valid", data: "payload", signature: sig, keyID: "k1", want: true},
		{name: "altered data", data: "payloaD", signature: sig, keyID: "k1", want: false},
		{name: "other key", data: "payload", signature: sig, keyID: "k2", want: false},
		{name: "malformed signature", data: "payload", signature: "zz", keyID: "k1", want: false},
		{name: "missing key", data: "payload", signature: sig, keyID: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := engine.Verify(ctx, tt.data, tt.signature, tt.keyID)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestNewEngineRejectsUnknownCipher(t *testing.T) {
	_, err := NewEngine(newStaticKeys(), "rot13", nil)
	assert.ErrorIs(t, err, ErrUnsupportedCipher)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare([]byte("abc"), []byte("abc")))
	assert.False(t, SecureCompare([]byte("abc"), []byte("abd")))
	assert.False(t, SecureCompare([]byte("abc"), []byte("ab")))
}
