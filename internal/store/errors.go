package store

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when no row matches the identity key.
	ErrNotFound = errors.New("message not found")

	// ErrDuplicate is returned when a write collides with an existing key.
	ErrDuplicate = errors.New("duplicate identity key")
)

// isUniqueViolation reports whether err came from a unique constraint.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// IsMissingColumn reports whether err was caused by a column the schema
// does not have.
func IsMissingColumn(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such column") || strings.Contains(msg, "has no column named")
}
