package db

import (
	"fmt"

	"gorm.io/gorm"
)

// Dialect identifiers supported by the database layer.
const (
	// DialectPostgres is the PostgreSQL dialect name.
	DialectPostgres = "postgres"
	// DialectSQLite is the SQLite dialect name.
	DialectSQLite = "sqlite"
)

// DialectName returns the active database dialect name.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite reports whether the connection uses SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

// ContainsDigitsExpr returns a LIKE expression for a substring match on a digits-only column.
// Phone keys hold digits only, so no case folding is needed on either dialect.
func ContainsDigitsExpr(column string) string {
	return fmt.Sprintf("%s LIKE ?", column)
}

// ContainsPattern wraps a digits-only search term for ContainsDigitsExpr.
func ContainsPattern(term string) string {
	return "%" + term + "%"
}
