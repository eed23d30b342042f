package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/CodexShaper-Devs/license-sub000/internal/actor"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

// maskLicenseKey keeps the first and last four characters.
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashLicenseKey returns a short stable hash for correlating log lines.
func hashLicenseKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

func licenseAttrs(key string, lic *models.License) []any {
	attrs := []any{
		slog.String("license_key", maskLicenseKey(key)),
		slog.String("license_key_hash", hashLicenseKey(key)),
	}
	if lic != nil {
		attrs = append(attrs, slog.Uint64("license_id", uint64(lic.ID)))
	}
	return attrs
}

// logFailure records a failed operation with the license it concerned.
func (s *Service) logFailure(ctx context.Context, op, key string, lic *models.License, err error) {
	level := slog.LevelWarn
	if KindOf(err) == KindInfrastructure || KindOf(err) == KindSecurityVerification {
		level = slog.LevelError
	}
	attrs := append(licenseAttrs(key, lic),
		slog.String("operation", op),
		slog.String("error_kind", string(KindOf(err))),
		slog.Time("at", s.clock.Now()),
		slog.String("actor", actor.FromContext(ctx).String()),
		slog.String("error", err.Error()),
	)
	s.logger.Log(ctx, level, "license operation failed", attrs...)
}

func (s *Service) logSuccess(ctx context.Context, op, key string, lic *models.License, started time.Time, extra ...any) {
	attrs := append(licenseAttrs(key, lic),
		slog.String("operation", op),
		slog.Duration("duration", s.clock.Now().Sub(started)),
	)
	s.logger.InfoContext(ctx, "license operation completed", append(attrs, extra...)...)
}
