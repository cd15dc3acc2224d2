package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrConcurrentModification is surfaced when a serialization or lock conflict
// aborts a read-modify-write; callers retry the whole operation.
var ErrConcurrentModification = errors.New("concurrent_modification")

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

func IsSerializationErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	// PostgreSQL 40001 / 40P01, MySQL 1213
	return strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "Error 1213")
}
