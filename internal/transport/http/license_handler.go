package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "github.com/CodexShaper-Devs/license-sub000/internal/errors"
	"github.com/CodexShaper-Devs/license-sub000/internal/license"
	"github.com/CodexShaper-Devs/license-sub000/internal/middleware"
	"github.com/CodexShaper-Devs/license-sub000/internal/models"
	"github.com/CodexShaper-Devs/license-sub000/internal/security"
	"github.com/CodexShaper-Devs/license-sub000/pkg/contracts/domain"
)

// LicenseService is the part of the license engine the HTTP layer calls.
type LicenseService interface {
	CreateLicense(ctx context.Context, req license.CreateRequest) (*models.License, error)
	GetLicense(ctx context.Context, key string) (*license.Details, error)
	Events(ctx context.Context, key string) ([]models.LicenseEvent, error)
	ActivateLicense(ctx context.Context, key string, req license.ActivationRequest) (*license.ActivationResult, error)
	DeactivateLicense(ctx context.Context, key, token, reason string) (*license.SeatSummary, error)
	DeactivateByDomain(ctx context.Context, key, domain, token, reason string) (*license.SeatSummary, error)
	DeactivateEntireLicense(ctx context.Context, key, reason string) (*license.SeatSummary, error)
	BulkDeactivate(ctx context.Context, key string, filter license.BulkFilter) (int, *license.SeatSummary, error)
	ValidateLicense(ctx context.Context, key string, req license.ValidationRequest) (*license.ValidationResult, error)
	CheckIn(ctx context.Context, key string, req license.CheckInRequest) (*license.CheckInResult, error)
	RecordFailedCheck(ctx context.Context, key, domain, reason string) (*models.LicenseDomain, error)
	RenewLicense(ctx context.Context, key string, req license.RenewRequest) (*models.License, error)
	Suspend(ctx context.Context, key, reason string) (*models.License, error)
	Reinstate(ctx context.Context, key, reason string) (*models.License, error)
	Cancel(ctx context.Context, key, reason string) (*models.License, error)
	AddDomain(ctx context.Context, key, domain string, method models.ValidationMethod) (*license.DomainChallenge, error)
	VerifyDomain(ctx context.Context, key, domain string) (*models.LicenseDomain, error)
	RefreshDomainVerification(ctx context.Context, key string) (*license.RefreshReport, error)
}

// LicenseHandler exposes the license engine over JSON.
type LicenseHandler struct {
	service   LicenseService
	validator *middleware.Validator
	errors    *apierrors.ErrorHandler
	logger    *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service LicenseService, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:   service,
		validator: validator,
		errors:    errorHandler,
		logger:    logger.With(slog.String("handler", "license")),
	}
}

// ClientRoutes are called by installed products. The license key travels
// in the body so that it stays out of access logs.
func (h *LicenseHandler) ClientRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/activate", h.Activate)
	r.Post("/validate", h.Validate)
	r.Post("/check-in", h.CheckIn)
	r.Post("/failed-check", h.FailedCheck)
	r.Post("/deactivate", h.Deactivate)
	r.Post("/deactivate/domain", h.DeactivateDomain)
	r.Post("/domains", h.AddDomain)
	r.Post("/domains/verify", h.VerifyDomain)
	return r
}

// AdminRoutes manage licenses and must sit behind administrative auth.
func (h *LicenseHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Route("/{licenseKey}", func(r chi.Router) {
		r.Use(h.requireLicenseKey)
		r.Get("/", h.Get)
		r.Get("/events", h.Events)
		r.Post("/renew", h.Renew)
		r.Post("/suspend", h.changeStatus(h.service.Suspend))
		r.Post("/reinstate", h.changeStatus(h.service.Reinstate))
		r.Post("/cancel", h.changeStatus(h.service.Cancel))
		r.Post("/deactivate-all", h.DeactivateAll)
		r.Post("/bulk-deactivate", h.BulkDeactivate)
		r.Post("/domains/refresh", h.RefreshDomains)
	})
	return r
}

// Create handles POST /api/v1/admin/licenses
func (h *LicenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLicenseRequest
	if !h.decode(w, r, &req) {
		return
	}

	lic, err := h.service.CreateLicense(r.Context(), license.CreateRequest{
		LicenseKey:      req.LicenseKey,
		ProductID:       req.ProductID,
		PlanID:          req.PlanID,
		Type:            models.LicenseType(req.Type),
		Source:          models.LicenseSource(req.Source),
		PurchaseCode:    req.PurchaseCode,
		PurchasedSeats:  req.PurchasedSeats,
		ValidFrom:       req.ValidFrom,
		ValidUntil:      req.ValidUntil,
		TrialDays:       req.TrialDays,
		MaxFailedChecks: req.MaxFailedChecks,
		Features:        req.Features,
		Restrictions:    req.Restrictions,
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toLicenseResponse(&license.Details{
		License: lic,
		Status:  lic.Status,
		Seats:   seatsOf(lic),
	}))
}

// Get handles GET /api/v1/admin/licenses/{licenseKey}
func (h *LicenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.GetLicense(r.Context(), licenseKeyParam(r))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, toLicenseResponse(details))
}

// Events handles GET /api/v1/admin/licenses/{licenseKey}/events
func (h *LicenseHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.Events(r.Context(), licenseKeyParam(r))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	out := make([]domain.Event, 0, len(events))
	for _, e := range events {
		out = append(out, domain.Event{
			Type:      string(e.EventType),
			Data:      e.EventData,
			Actor:     e.Actor,
			IPAddress: e.IPAddress,
			RequestID: e.RequestID,
			CreatedAt: e.CreatedAt,
		})
	}
	render.JSON(w, r, out)
}

// Activate handles POST /api/v1/licenses/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req domain.ActivationRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.ActivateLicense(r.Context(), req.LicenseKey, license.ActivationRequest{
		DeviceIdentifier: req.DeviceIdentifier,
		DeviceName:       req.DeviceName,
		Type:             models.ActivationType(req.Type),
		HardwareInfo:     hardwareOf(&req.HardwareInfo),
		Domain:           req.Domain,
		IPAddress:        middleware.ClientIP(r),
		UserAgent:        r.UserAgent(),
		Metadata:         req.Metadata,
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, domain.ActivationResponse{
		ActivationID:    res.ActivationID,
		ActivationToken: res.ActivationToken,
		Domain:          res.Domain,
		Status:          string(res.Status),
		ExpiresAt:       res.ExpiresAt,
		NextCheckIn:     res.NextCheckIn,
		Seats:           toSeats(res.Seats),
	})
}

// Validate handles POST /api/v1/licenses/validate. A refused validation
// still answers with a validation body, carrying the status of its error
// kind and the kind itself.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req domain.ValidationRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.ValidateLicense(r.Context(), req.LicenseKey, license.ValidationRequest{
		Domain:       req.Domain,
		HardwareInfo: hardwareOf(req.HardwareInfo),
		IPAddress:    middleware.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	var lerr *license.Error
	if err != nil && (res == nil || !errors.As(err, &lerr)) {
		h.errors.HandleError(w, r, err)
		return
	}

	resp := domain.ValidationResponse{
		Valid:             res.Valid,
		Status:            string(res.Status),
		Type:              string(res.Type),
		Source:            string(res.Source),
		Features:          res.Features,
		ExpiresAt:         res.ExpiresAt,
		GracePeriodEndsAt: res.GracePeriodEndsAt,
		NextCheckIn:       res.NextCheckIn,
		Domain:            res.Domain,
	}
	if lerr != nil {
		status, _, _ := apierrors.StatusForKind(lerr)
		resp.Valid = false
		resp.Message = lerr.Error()
		resp.ErrorType = string(lerr.Kind)
		h.logger.InfoContext(r.Context(), "validation refused",
			slog.String("error_type", resp.ErrorType),
			slog.String("operation", lerr.Op),
		)
		render.Status(r, status)
	}
	render.JSON(w, r, resp)
}

// CheckIn handles POST /api/v1/licenses/check-in
func (h *LicenseHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckInRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.CheckIn(r.Context(), req.LicenseKey, license.CheckInRequest{
		Domain:       req.Domain,
		HardwareInfo: hardwareOf(req.HardwareInfo),
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, domain.CheckInResponse{
		Status:      string(res.Status),
		Domain:      res.Domain,
		LastCheckIn: res.LastCheckIn,
		NextCheckIn: res.NextCheckIn,
	})
}

// FailedCheck handles POST /api/v1/licenses/failed-check
func (h *LicenseHandler) FailedCheck(w http.ResponseWriter, r *http.Request) {
	var req domain.FailedCheckRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, err := h.service.RecordFailedCheck(r.Context(), req.LicenseKey, req.Domain, req.Reason)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, toDomain(d))
}

// Deactivate handles POST /api/v1/licenses/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req domain.DeactivationRequest
	if !h.decode(w, r, &req) {
		return
	}

	seats, err := h.service.DeactivateLicense(r.Context(), req.LicenseKey, req.ActivationToken, req.Reason)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, domain.DeactivationResponse{Deactivated: 1, Seats: toSeats(*seats)})
}

// DeactivateDomain handles POST /api/v1/licenses/deactivate/domain
func (h *LicenseHandler) DeactivateDomain(w http.ResponseWriter, r *http.Request) {
	var req domain.DomainDeactivationRequest
	if !h.decode(w, r, &req) {
		return
	}

	seats, err := h.service.DeactivateByDomain(r.Context(), req.LicenseKey, req.Domain, req.ActivationToken, req.Reason)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, domain.DeactivationResponse{Deactivated: 1, Seats: toSeats(*seats)})
}

// DeactivateAll handles POST /api/v1/admin/licenses/{licenseKey}/deactivate-all
func (h *LicenseHandler) DeactivateAll(w http.ResponseWriter, r *http.Request) {
	var req domain.StatusChangeRequest
	if !h.decode(w, r, &req) {
		return
	}

	seats, err := h.service.DeactivateEntireLicense(r.Context(), licenseKeyParam(r), req.Reason)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, domain.DeactivationResponse{Seats: toSeats(*seats)})
}

// BulkDeactivate handles POST /api/v1/admin/licenses/{licenseKey}/bulk-deactivate
func (h *LicenseHandler) BulkDeactivate(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkDeactivationRequest
	if !h.decode(w, r, &req) {
		return
	}

	n, seats, err := h.service.BulkDeactivate(r.Context(), licenseKeyParam(r), license.BulkFilter{
		Domain:           req.Domain,
		DeviceIdentifier: req.DeviceIdentifier,
		Type:             models.ActivationType(req.Type),
		Reason:           req.Reason,
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, domain.DeactivationResponse{Deactivated: n, Seats: toSeats(*seats)})
}

// Renew handles POST /api/v1/admin/licenses/{licenseKey}/renew
func (h *LicenseHandler) Renew(w http.ResponseWriter, r *http.Request) {
	var req domain.RenewRequest
	if !h.decode(w, r, &req) {
		return
	}

	lic, err := h.service.RenewLicense(r.Context(), licenseKeyParam(r), license.RenewRequest{
		Period: models.BillingCycle(req.Period),
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, toLicenseResponse(&license.Details{License: lic, Status: lic.Status, Seats: seatsOf(lic)}))
}

func (h *LicenseHandler) changeStatus(fn func(ctx context.Context, key, reason string) (*models.License, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.StatusChangeRequest
		if !h.decode(w, r, &req) {
			return
		}

		lic, err := fn(r.Context(), licenseKeyParam(r), req.Reason)
		if err != nil {
			h.errors.HandleError(w, r, err)
			return
		}
		render.JSON(w, r, toLicenseResponse(&license.Details{License: lic, Status: lic.Status, Seats: seatsOf(lic)}))
	}
}

// AddDomain handles POST /api/v1/licenses/domains
func (h *LicenseHandler) AddDomain(w http.ResponseWriter, r *http.Request) {
	var req domain.AddDomainRequest
	if !h.decode(w, r, &req) {
		return
	}

	ch, err := h.service.AddDomain(r.Context(), req.LicenseKey, req.Domain, models.ValidationMethod(req.Method))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, domain.DomainChallengeResponse{
		Domain:      toDomain(ch.Domain),
		Method:      string(ch.Challenge.Method),
		RecordType:  ch.Challenge.RecordType,
		RecordName:  ch.Challenge.RecordName,
		RecordValue: ch.Challenge.RecordValue,
		FileURL:     ch.Challenge.FileURL,
		FileContent: ch.Challenge.FileContent,
	})
}

// VerifyDomain handles POST /api/v1/licenses/domains/verify
func (h *LicenseHandler) VerifyDomain(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyDomainRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, err := h.service.VerifyDomain(r.Context(), req.LicenseKey, req.Domain)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, toDomain(d))
}

// RefreshDomains handles POST /api/v1/admin/licenses/{licenseKey}/domains/refresh
func (h *LicenseHandler) RefreshDomains(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RefreshDomainVerification(r.Context(), licenseKeyParam(r))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, domain.RefreshResponse{
		Checked:     report.Checked,
		Verified:    nonNil(report.Verified),
		Failed:      nonNil(report.Failed),
		Deactivated: nonNil(report.Deactivated),
	})
}

func (h *LicenseHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := h.validator.Decode(w, r, dst); err != nil {
		h.errors.HandleError(w, r, err)
		return false
	}
	return true
}

func licenseKeyParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "licenseKey"))
}

// requireLicenseKey rejects admin paths whose key segment is blank.
func (h *LicenseHandler) requireLicenseKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if licenseKeyParam(r) == "" {
			h.errors.HandleError(w, r, apierrors.MissingParameter("licenseKey"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hardwareOf(info *domain.HardwareInfo) security.HardwareInfo {
	if info == nil {
		return security.HardwareInfo{}
	}
	return security.HardwareInfo{
		CPUID:      info.CPUID,
		DiskID:     info.DiskID,
		MACAddress: info.MACAddress,
		BIOSID:     info.BIOSID,
	}
}

func seatsOf(lic *models.License) license.SeatSummary {
	return license.SeatSummary{
		Total:     lic.PurchasedSeats,
		Activated: lic.ActivatedSeats,
		Remaining: lic.AvailableSeats(),
		Unlimited: lic.HasUnlimitedSeats(),
	}
}

func toSeats(s license.SeatSummary) domain.Seats {
	if s.Unlimited {
		return domain.Seats{Total: "unlimited", Activated: s.Activated, Remaining: "unlimited"}
	}
	return domain.Seats{Total: s.Total, Activated: s.Activated, Remaining: s.Remaining}
}

func toLicenseResponse(d *license.Details) domain.LicenseResponse {
	lic := d.License
	out := domain.LicenseResponse{
		UUID:              lic.UUID,
		LicenseKey:        lic.LicenseKey,
		ProductID:         lic.ProductID,
		PlanID:            lic.PlanID,
		Type:              string(lic.Type),
		Source:            string(lic.Source),
		Status:            string(d.Status),
		Seats:             toSeats(d.Seats),
		ValidFrom:         lic.ValidFrom,
		ValidUntil:        lic.ValidUntil,
		TrialEndsAt:       lic.TrialEndsAt,
		GracePeriodEndsAt: lic.GracePeriodEndsAt,
		NextCheckIn:       lic.NextCheckIn,
		LastCheckIn:       lic.LastCheckIn,
		FailedChecks:      lic.FailedChecks,
		RenewalCount:      lic.RenewalCount,
		Features:          lic.Features,
		Restrictions:      lic.Restrictions,
		Payload:           d.Payload,
		CreatedAt:         lic.CreatedAt,
		UpdatedAt:         lic.UpdatedAt,
	}
	for _, a := range d.Activations {
		out.Activations = append(out.Activations, domain.Activation{
			ID:                 a.ID,
			Type:               string(a.Type),
			DeviceIdentifier:   a.DeviceIdentifier,
			DeviceName:         a.DeviceName,
			IsActive:           a.IsActive,
			ActivatedAt:        a.ActivatedAt,
			LastCheckIn:        a.LastCheckIn,
			DeactivatedAt:      a.DeactivatedAt,
			DeactivationReason: a.DeactivationReason,
		})
	}
	for i := range d.Domains {
		out.Domains = append(out.Domains, toDomain(&d.Domains[i]))
	}
	return out
}

func toDomain(d *models.LicenseDomain) domain.Domain {
	return domain.Domain{
		Domain:             d.Domain,
		IsActive:           d.IsActive,
		IsLocal:            d.IsLocal,
		IsPrimary:          d.IsPrimary,
		ValidationMethod:   string(d.ValidationMethod),
		ValidatedAt:        d.ValidatedAt,
		LastCheckIn:        d.LastCheckIn,
		NextCheckIn:        d.NextCheckIn,
		FailedChecks:       d.FailedChecks,
		DeactivationReason: d.DeactivationReason,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
