package app

import "errors"

var (
	// ErrInvalidCredentials is shown to users as is; it must not reveal
	// whether the email exists.
	ErrInvalidCredentials = errors.New("correo o contraseña incorrectos")

	// ErrNotVerified means the password matched but the email is unconfirmed.
	ErrNotVerified = errors.New("account not verified")

	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid review state")
	ErrSelfDelete   = errors.New("cannot delete own account")
	ErrNoFile       = errors.New("no file selected")
)

// ValidationError is a user-facing form failure. Message is shown verbatim.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err should be flashed back to the form.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
