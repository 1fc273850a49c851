package validation

import (
	"strconv"
	"time"

	sterrors "github.com/vnykmshr/systask/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
// Returns a ValidationError if the value is not positive.
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return sterrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidatePositiveDuration validates that a duration is strictly positive.
func ValidatePositiveDuration(module, field string, value time.Duration) error {
	if value <= 0 {
		return sterrors.NewValidationError(module, field, value, "must be positive").
			WithHint("use a duration greater than 0")
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
// Returns a ValidationError if the string is empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return sterrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}

// ValidateMaxLength validates that a string is at most max bytes long.
func ValidateMaxLength(module, field string, value string, max int) error {
	if len(value) > max {
		return sterrors.NewValidationError(module, field, len(value), "too long").
			WithHint("use at most " + strconv.Itoa(max) + " characters")
	}
	return nil
}
