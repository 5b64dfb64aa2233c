package main

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricemill/stock-ledger/ledger"
	"github.com/ricemill/stock-ledger/store/sqlstore"
)

// seedDB writes one variety with opening stock to a fresh SQLite file.
func seedDB(t *testing.T) (path, varietyID string) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "mill.db")
	log := logrus.New()
	log.SetOutput(io.Discard)

	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: path, Logger: log})
	require.NoError(t, err)
	defer store.Close()

	v, err := ledger.NewEngine(store, ledger.Options{Logger: log}).RegisterVariety(ctx, ledger.RegisterVarietyInput{
		Name:         "Samba Paddy",
		Category:     ledger.CategoryPaddy,
		OpeningStock: decimal.NewFromInt(250),
		Actor:        "tester",
	})
	require.NoError(t, err)
	return path, v.ID
}

func auditArgs(t *testing.T, path string) []string {
	return []string{"-env-file", filepath.Join(t.TempDir(), "none.env"), "-db-driver", "sqlite3", "-db", path}
}

func TestRun_Clean(t *testing.T) {
	path, _ := seedDB(t)
	var out, errOut bytes.Buffer

	code := run(auditArgs(t, path), &out, &errOut)

	assert.Equal(t, exitClean, code, errOut.String())
	assert.Contains(t, out.String(), "varieties=1 adjustments=1")
	assert.Contains(t, out.String(), "no discrepancies")
}

func TestRun_ReportsDrift(t *testing.T) {
	// GIVEN: A variety whose cached stock was edited behind the ledger's back
	path, varietyID := seedDB(t)
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE varieties SET current_stock = '300' WHERE id = ?`, varietyID)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	var out, errOut bytes.Buffer

	// WHEN: Auditing
	code := run(auditArgs(t, path), &out, &errOut)

	// THEN: The drift is printed and the exit status says so
	assert.Equal(t, exitDrift, code, errOut.String())
	assert.Contains(t, out.String(), "1 discrepancies")
	assert.Contains(t, out.String(), "stock_replay")
	assert.Contains(t, out.String(), varietyID)
}

func TestRun_BadConfig(t *testing.T) {
	var out, errOut bytes.Buffer

	code := run([]string{"-db-driver", "oracle"}, &out, &errOut)

	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut.String(), "unsupported database.driver")
}
