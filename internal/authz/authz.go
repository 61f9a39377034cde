// Package authz defines the authorization failures shared by the engine's
// services. RecordNotFound is store.ErrNotFound; limit failures live in the
// limits package.
package authz

import "errors"

var (
	// ErrUnauthorized means the caller is not the role one level above
	// the record it tried to write, or is not an allowed debitor.
	ErrUnauthorized = errors.New("authz: caller not authorized")

	// ErrAlreadyInitialized means global state was initialized twice.
	ErrAlreadyInitialized = errors.New("authz: already initialized")

	// ErrInvalidParameter means a configuration value is out of range,
	// e.g. a zero-length limit period or an unset identity.
	ErrInvalidParameter = errors.New("authz: invalid parameter")
)
