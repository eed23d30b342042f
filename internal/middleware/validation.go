package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	apierrors "github.com/CodexShaper-Devs/license-sub000/internal/errors"
)

// DefaultMaxBodySize bounds request bodies. License payloads are small.
const DefaultMaxBodySize = 64 << 10

// Validator decodes JSON request bodies and checks them against their
// validate struct tags. Field names in errors follow the json tags.
type Validator struct {
	validate    *validator.Validate
	logger      *slog.Logger
	maxBodySize int64
}

// NewValidator creates a Validator with the license-specific rules
// registered:
//
//	domain       empty, or a host name that normalizes to a non-empty domain
//	device_id    1-255 printable characters without whitespace
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterValidation("domain", isDomain)
	v.RegisterValidation("device_id", isDeviceIdentifier)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate:    v,
		logger:      logger.With(slog.String("component", "request_validator")),
		maxBodySize: DefaultMaxBodySize,
	}
}

// Struct validates v and returns validator.ValidationErrors on failure.
func (v *Validator) Struct(s interface{}) error {
	return v.validate.Struct(s)
}

// Decode reads the JSON body of r into dst and validates it. An empty
// body decodes as an empty object so that required-field errors name the
// missing fields.
func (v *Validator) Decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, v.maxBodySize)

	if err := render.DecodeJSON(r.Body, dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierrors.ErrPayloadTooLarge
		}
		v.logger.DebugContext(r.Context(), "request body rejected",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		return apierrors.InvalidRequestWithError(err)
	}

	return v.validate.Struct(dst)
}

// BodyLimit rejects requests whose declared length exceeds limit.
func BodyLimit(limit int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				apierrors.WriteError(w, apierrors.NewWithDetails(
					http.StatusRequestEntityTooLarge,
					"PAYLOAD_TOO_LARGE",
					"Request body exceeds maximum allowed size",
					map[string]interface{}{"max_size": limit, "size": r.ContentLength},
				))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ContentTypeJSON requires a JSON content type on requests with a body.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength == 0 || r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			apierrors.WriteError(w, apierrors.NewWithDetails(
				http.StatusUnsupportedMediaType,
				"UNSUPPORTED_MEDIA_TYPE",
				"Content-Type must be application/json",
				map[string]interface{}{"content_type": ct},
			))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isDomain(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true
	}
	return len(raw) <= 253 && domains.Normalize(raw) != ""
}

func isDeviceIdentifier(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" || len(id) > 255 {
		return false
	}
	for _, ch := range id {
		if ch <= ' ' || ch == 0x7f {
			return false
		}
	}
	return true
}
