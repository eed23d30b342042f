package errors

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodexShaper-Devs/license-sub000/internal/domains"
	"github.com/CodexShaper-Devs/license-sub000/internal/license"
)

func newTestHandler() (*ErrorHandler, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewErrorHandler(logger, false), &buf
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_HandleError_LicenseKinds(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantKind   license.Kind
	}{
		{
			name:       "not found",
			err:        &license.Error{Kind: license.KindNotFound, Op: "validate", Message: "license not found", Err: license.ErrLicenseNotFound},
			wantStatus: http.StatusNotFound,
			wantType:   TypeLicenseNotFound,
			wantKind:   license.KindNotFound,
		},
		{
			name:       "security verification",
			err:        &license.Error{Kind: license.KindSecurityVerification, Message: "license security verification failed", Err: license.ErrSecurityVerification},
			wantStatus: http.StatusForbidden,
			wantType:   TypeLicenseSecurity,
			wantKind:   license.KindSecurityVerification,
		},
		{
			name:       "seat limit is a conflict",
			err:        &license.Error{Kind: license.KindPolicyViolation, Message: "seat limit reached: 3 of 3 seats in use", Err: license.ErrSeatLimitExceeded},
			wantStatus: http.StatusConflict,
			wantType:   TypeLicensePolicy,
			wantKind:   license.KindPolicyViolation,
		},
		{
			name:       "domain conflict",
			err:        &license.Error{Kind: license.KindPolicyViolation, Message: "taken", Err: &domains.Error{Domain: "a.com", Err: domains.ErrDomainConflict}},
			wantStatus: http.StatusConflict,
			wantType:   TypeLicensePolicy,
			wantKind:   license.KindPolicyViolation,
		},
		{
			name:       "renewal refused is unprocessable",
			err:        &license.Error{Kind: license.KindPolicyViolation, Message: "license is not eligible for renewal: trial", Err: license.ErrNotEligibleForRenewal},
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   TypeLicensePolicy,
			wantKind:   license.KindPolicyViolation,
		},
		{
			name:       "status violation",
			err:        &license.Error{Kind: license.KindStatusViolation, Message: "license is suspended", Err: license.ErrLicenseSuspended},
			wantStatus: http.StatusForbidden,
			wantType:   TypeLicenseStatus,
			wantKind:   license.KindStatusViolation,
		},
		{
			name:       "invalid input",
			err:        &license.Error{Kind: license.KindInvalidInput, Message: "domain is required", Err: license.ErrDomainRequired},
			wantStatus: http.StatusBadRequest,
			wantType:   TypeLicenseInvalidInput,
			wantKind:   license.KindInvalidInput,
		},
		{
			name:       "infrastructure",
			err:        &license.Error{Kind: license.KindInfrastructure, Message: "internal error", Err: stderrors.New("connection refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantType:   TypeLicenseUnavailable,
			wantKind:   license.KindInfrastructure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses/activate", nil)
			rec := httptest.NewRecorder()

			h.HandleError(rec, req, fmt.Errorf("handler: %w", tt.err))

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeProblem(t, rec)
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, string(tt.wantKind), body["error_type"])
			assert.Equal(t, "/api/v1/licenses/activate", body["instance"])
			assert.Contains(t, body, "trace_id")
		})
	}
}

func TestErrorHandler_InfrastructureHidesCause(t *testing.T) {
	h, logs := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses/x", nil)
	rec := httptest.NewRecorder()

	h.HandleError(rec, req, &license.Error{
		Kind:    license.KindInfrastructure,
		Message: "internal error",
		Err:     stderrors.New("pq: password authentication failed"),
		Details: map[string]any{"dsn": "postgres://secret"},
	})

	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "postgres://")
	assert.Contains(t, logs.String(), `"level":"ERROR"`)
}

func TestErrorHandler_ValidationErrors(t *testing.T) {
	type payload struct {
		LicenseKey string `validate:"required"`
		Domain     string `validate:"max=5"`
	}
	err := validator.New().Struct(payload{Domain: "example.com"})
	require.Error(t, err)

	h, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses/validate", nil)
	rec := httptest.NewRecorder()
	h.HandleError(rec, req, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeProblem(t, rec)
	assert.Equal(t, TypeValidation, body["type"])
	fields, ok := body["errors"].([]interface{})
	require.True(t, ok)
	assert.Len(t, fields, 2)
	assert.Contains(t, rec.Body.String(), "is required")
}

func TestErrorHandler_APIErrorAndFallbacks(t *testing.T) {
	h, _ := newTestHandler()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"api error", MissingParameter("license_key"), http.StatusBadRequest, TypeValidation},
		{"rate limit", ErrRateLimitExceeded, http.StatusTooManyRequests, TypeRateLimit},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout},
		{"unknown", stderrors.New("boom"), http.StatusInternalServerError, TypeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			rec := httptest.NewRecorder()
			h.HandleError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantType, decodeProblem(t, rec)["type"])
		})
	}
}

func TestErrorHandler_HandleErrorNil(t *testing.T) {
	h, _ := newTestHandler()
	rec := httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Zero(t, rec.Body.Len())
}

func TestErrorMiddleware(t *testing.T) {
	h, logs := newTestHandler()
	m := NewErrorMiddleware(h, slog.New(slog.NewJSONHandler(logs, nil)))

	t.Run("recovers panics", func(t *testing.T) {
		handler := m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("kaboom")
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "kaboom")
	})

	t.Run("redacts failed request bodies", func(t *testing.T) {
		logs.Reset()
		handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		body := `{"license_key":"ABCD-EFGH-JKLM-NPQR","domain":"shop.com"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses/validate", strings.NewReader(body))
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Contains(t, logs.String(), "[REDACTED]")
		assert.NotContains(t, logs.String(), "ABCD-EFGH-JKLM-NPQR")
		assert.Contains(t, logs.String(), "shop.com")
		assert.Contains(t, logs.String(), `"level":"WARN"`)
	})
}

func TestProblemDetails_MarshalJSON(t *testing.T) {
	p := NewProblemDetails(http.StatusConflict, TypeConflict, "Conflict", "taken", "/x").
		WithExtension("error_type", "policy_violation").
		WithExtension("status", 999)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, float64(http.StatusConflict), out["status"], "extensions cannot override standard fields")
	assert.Equal(t, "policy_violation", out["error_type"])
	assert.Equal(t, "taken", out["detail"])
}
