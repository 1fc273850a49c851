// Package validation provides common validation utilities for arguments and
// configuration parameters across the systask library.
//
// Every helper returns a *errors.ValidationError, which unwraps to
// errors.ErrInvalidConfiguration, so callers can branch with errors.Is.
package validation
