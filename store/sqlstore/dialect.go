package sqlstore

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// dialect holds everything that differs between the supported databases.
type dialect struct {
	name string

	// decimalType is the column type for quantities and amounts. SQLite keeps
	// them as TEXT so no value ever passes through a float.
	decimalType string
	textType    string

	// inlineIndexes puts index definitions inside CREATE TABLE (MySQL has no
	// CREATE INDEX IF NOT EXISTS).
	inlineIndexes bool

	// rowLocks is false where the whole transaction is already exclusive.
	rowLocks bool

	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool

	readOnlyTx bool
}

var dialects = map[string]dialect{
	DriverSQLite: {
		name:        DriverSQLite,
		decimalType: "TEXT",
		textType:    "TEXT",
	},
	DriverMySQL: {
		name:          DriverMySQL,
		decimalType:   "DECIMAL(20,4)",
		textType:      "TEXT",
		inlineIndexes: true,
		rowLocks:      true,
		readOnlyTx:    true,
	},
	DriverPostgres: {
		name:        DriverPostgres,
		decimalType: "NUMERIC(20,4)",
		textType:    "TEXT",
		rowLocks:    true,
		numbered:    true,
		readOnlyTx:  true,
	},
}

// rebind rewrites ? placeholders for drivers that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) forUpdate(lock bool) string {
	if lock && d.rowLocks {
		return " FOR UPDATE"
	}
	return ""
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// isRetryable reports deadlocks, lock timeouts and serialization failures:
// the transaction lost a race and can be run again from the start.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
