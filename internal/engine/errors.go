package engine

import "errors"

// ErrNotAuthenticated is returned by every operation that needs a synced
// session when none exists.
var ErrNotAuthenticated = errors.New("not authenticated")

// ValidationError marks input rejected before any store call. The
// in-memory record and the store are untouched when one is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// IsValidation reports whether err is a validation rejection rather than
// a store failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
