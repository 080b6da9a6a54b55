//go:build cgo

package database

import (
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// isSQLiteUniqueViolation reports whether err is a SQLite
// uniqueness-constraint failure. The sqlite3 error types are only
// available when the driver is built with cgo.
func isSQLiteUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
