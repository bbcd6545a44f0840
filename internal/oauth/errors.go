package oauth

import (
	"errors"
	"fmt"
)

// ErrInvalidGrant marks a refresh token the provider has permanently
// rejected (revoked or expired). Callers evict the account on this; every
// other refresh failure is transient.
var ErrInvalidGrant = errors.New("invalid_grant")

// RefreshError carries the provider's refresh failure details.
type RefreshError struct {
	Status      int
	Code        string // OAuth error code, e.g. "invalid_grant"
	Description string
}

func (e *RefreshError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token refresh failed (%d %s): %s", e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("token refresh failed (%d %s)", e.Status, e.Code)
}

func (e *RefreshError) Unwrap() error {
	if e.Code == "invalid_grant" {
		return ErrInvalidGrant
	}
	return nil
}
