package repository

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashCacheKey keeps raw license keys out of shared cache key names.
func hashCacheKey(licenseKey string) string {
	sum := sha256.Sum256([]byte(licenseKey))
	return hex.EncodeToString(sum[:16])
}
