//go:build !cgo

package database

// isSQLiteUniqueViolation always reports false without cgo: the sqlite3
// driver is a non-functional stub in that configuration, so it can never
// produce a sqlite3.Error. Callers fall back to message matching.
func isSQLiteUniqueViolation(err error) bool {
	return false
}
