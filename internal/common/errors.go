// Package common defines sentinel errors and shared constants used across the
// tenant catalog, the migration runner and the transports. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorInvalidSlug  = errors.New("invalid slug")
	ErrorProvisioning = errors.New("tenant provisioning failed")

	// Rebuild gating.
	ErrorRebuildDisabled = errors.New("schema rebuild is disabled")
	ErrorConfirmation    = errors.New("confirmation mismatch")

	// Request-scope errors.
	ErrorNoTenant       = errors.New("no tenant in context")
	ErrorHandleReleased = errors.New("schema connection already released")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
