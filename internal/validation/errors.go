package validation

import (
	"errors"
	"sort"
	"strings"
)

// ErrInvalid is matched by every Errors value via errors.Is.
var ErrInvalid = errors.New("validation failed")

// Errors maps a field name to its violated rules, in the order they were checked.
type Errors map[string][]string

// Add records a message for field.
func (e Errors) Add(field, message string) {
	e[field] = append(e[field], message)
}

// Has reports whether field has at least one violation.
func (e Errors) Has(field string) bool {
	return len(e[field]) > 0
}

// Err returns e as an error, or nil when nothing was recorded.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(e[f], " "))
	}
	return ErrInvalid.Error() + ": " + strings.Join(parts, "; ")
}

func (e Errors) Is(target error) bool {
	return target == ErrInvalid
}

// FieldErrors extracts the field map from err, if it carries one.
func FieldErrors(err error) (Errors, bool) {
	var verr Errors
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
