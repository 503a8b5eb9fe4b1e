package storage

import (
	"errors"
	"strings"
)

// MaxFileSize is the largest accepted upload (5 MiB).
const MaxFileSize int64 = 5 * 1024 * 1024

var allowedExtensions = map[string]struct{}{
	"pdf":  {},
	"doc":  {},
	"docx": {},
	"xls":  {},
	"xlsx": {},
	"ppt":  {},
	"pptx": {},
	"odt":  {},
	"txt":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"webp": {},
}

// Validation failures carry user-facing messages.
var (
	ErrMissingExtension = errors.New("el archivo no tiene nombre o extensión")
	ErrUnsupportedType  = errors.New("tipo de archivo no permitido")
	ErrFileTooLarge     = errors.New("el archivo supera el tamaño máximo de 5 MB")
)

// Extension returns the lowercase suffix after the last dot, or "" when the
// name has no dot.
func Extension(name string) string {
	name = strings.TrimSpace(name)
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

// IsValidName reports whether the name carries an allowed extension.
func IsValidName(name string) bool {
	_, ok := allowedExtensions[Extension(name)]
	return ok
}

// ValidateFile checks the extension allow-list and the size limit.
func ValidateFile(name string, size int64) error {
	ext := Extension(name)
	if ext == "" {
		return ErrMissingExtension
	}
	if _, ok := allowedExtensions[ext]; !ok {
		return ErrUnsupportedType
	}
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	return nil
}

// IsValidationError reports whether err is one of the user-facing file rule
// violations.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingExtension) || errors.Is(err, ErrUnsupportedType) || errors.Is(err, ErrFileTooLarge)
}
