package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
)

// IsUniqueViolation reports whether err is a unique constraint violation. On
// Postgres the SQLSTATE and constraint name are read from the driver error;
// SQLite only offers the message text. An empty constraintName matches any
// unique violation.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if code := pkgerrors.PGCode(err); code != "" {
		if code != pkgerrors.PGUniqueViolation {
			return false
		}
		return constraintName == "" || pkgerrors.PGConstraint(err) == constraintName
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLite names columns rather than the index, so any unique failure matches
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsNotFound reports whether err is GORM's record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
