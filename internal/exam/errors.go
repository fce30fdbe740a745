package exam

import (
	"errors"

	"github.com/pavelanni/examhall/internal/store"
)

// ErrNotFound is returned when an exam, attempt or answer does not exist or is
// not visible to the caller. The message never says which.
var ErrNotFound = errors.New("not found")

var errInvalidInput = errors.New("invalid input")

// ErrGradeNotRecorded marks a finalize whose attempt was graded but whose
// gradebook row could not be written.
var ErrGradeNotRecorded = errors.New("grade not recorded")

// FieldError is used to indicate an error with a specific input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError reports input that was rejected before anything was written.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func newValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err *ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

func (err *ValidationError) Unwrap() error {
	return err.Err
}

// notFound maps the store's guarded-write miss to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
