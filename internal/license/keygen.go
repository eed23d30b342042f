package license

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

const (
	keyAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	keyGroups    = 4
	keyGroupSize = 4
)

var (
	licenseKeyPattern      = regexp.MustCompile(`^[A-Z0-9]{4}(-[A-Z0-9]{4}){3}$`)
	activationTokenPattern = regexp.MustCompile(`^[A-Za-z0-9]{8}-[A-Za-z0-9]{40}$`)
)

// GenerateLicenseKey returns a key of the form XXXX-XXXX-XXXX-XXXX.
// Ambiguous characters (0, O, 1, I) are never produced.
func GenerateLicenseKey() (string, error) {
	groups := make([]string, keyGroups)
	for i := range groups {
		g, err := randomString(keyAlphabet, keyGroupSize)
		if err != nil {
			return "", err
		}
		groups[i] = g
	}
	return strings.Join(groups, "-"), nil
}

// IsFormattedKey reports whether key has the generated key layout.
func IsFormattedKey(key string) bool {
	return licenseKeyPattern.MatchString(key)
}

// GenerateActivationToken returns an 8 character prefix and a 40 character
// body joined by a dash.
func GenerateActivationToken() (string, error) {
	prefix, err := randomString(tokenAlphabet, 8)
	if err != nil {
		return "", err
	}
	body, err := randomString(tokenAlphabet, 40)
	if err != nil {
		return "", err
	}
	return prefix + "-" + body, nil
}

// IsActivationToken reports whether token has the generated token layout.
func IsActivationToken(token string) bool {
	return activationTokenPattern.MatchString(token)
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}
