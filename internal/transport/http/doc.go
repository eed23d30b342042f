// Package http exposes the license engine over JSON.
//
// Handlers stay thin: they decode and validate a request with
// middleware.Validator, call the license service and map its result to a
// contract type from pkg/contracts/domain. Service errors go through
// errors.ErrorHandler, which turns a license error kind into an RFC 7807
// problem with a matching status.
//
// Routes are split by audience:
//
//	/api/v1/licenses         installed products (activate, validate, check-in, ...)
//	/api/v1/admin/licenses   administration, behind bearer-token auth
//	/healthz, /readyz        probes
package http
