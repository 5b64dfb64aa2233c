package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricemill/stock-ledger/config"
	"github.com/ricemill/stock-ledger/ledger"
)

// noEnvFile points -env-file at a path that does not exist.
func noEnvFile(t *testing.T) string {
	return "-env-file=" + filepath.Join(t.TempDir(), "missing.env")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("server", []string{noEnvFile(t)})

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "credit", cfg.Ledger.Overpayment)
	assert.Equal(t, "LK", cfg.Ledger.PhoneRegion)
	assert.Equal(t, time.Duration(0), cfg.Audit.Interval)
}

func TestLoad_Precedence(t *testing.T) {
	// GIVEN: A YAML file, an environment override and a flag
	path := writeFile(t, "config.yaml", `
http:
  port: 9000
  read_timeout: 5s
database:
  driver: mysql
  dsn: mill:secret@tcp(db:3306)/mill
ledger:
  overpayment: reject
  strict_stock: true
audit:
  interval: 30m
`)
	t.Setenv("LEDGER_HTTP_PORT", "9100")
	t.Setenv("LEDGER_OVERPAYMENT", "legacy")

	// WHEN: Loading with -port set as well
	cfg, err := config.Load("server", []string{"-config", path, noEnvFile(t), "-port", "9200"})

	// THEN: flag > env > yaml > default
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTP.WriteTimeout)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "legacy", cfg.Ledger.Overpayment)
	assert.True(t, cfg.Ledger.StrictStock)
	assert.Equal(t, 30*time.Minute, cfg.Audit.Interval)

	opts := cfg.EngineOptions()
	assert.Equal(t, ledger.OverpaymentLegacy, opts.Overpayment)
	assert.True(t, opts.StrictStock)
	assert.Equal(t, "mill:secret@tcp(db:3306)/mill", cfg.StoreConfig().DSN)
}

func TestLoad_DotEnvFillsUnsetVariables(t *testing.T) {
	// GIVEN: A .env file and a variable already set in the environment
	envPath := writeFile(t, ".env", "LEDGER_PHONE_REGION=IN\nLEDGER_LOG_LEVEL=debug\n")
	t.Setenv("LEDGER_LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("LEDGER_PHONE_REGION") })

	// WHEN: Loading
	cfg, err := config.Load("server", []string{"-env-file", envPath})

	// THEN: The file fills the gap but does not override the environment
	require.NoError(t, err)
	assert.Equal(t, "IN", cfg.Ledger.PhoneRegion)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_FlagsSelectDatabase(t *testing.T) {
	cfg, err := config.Load("ledger-audit", []string{noEnvFile(t), "-db-driver", "postgres", "-db", "postgres://localhost/mill"})

	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/mill", cfg.Database.DSN)
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("LEDGER_HTTP_PORT", "eighty")

	_, err := config.Load("server", []string{noEnvFile(t)})

	assert.ErrorContains(t, err, "LEDGER_HTTP_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{"defaults", func(c *config.Config) {}, ""},
		{"bad driver", func(c *config.Config) { c.Database.Driver = "oracle" }, "unsupported database.driver"},
		{"missing dsn", func(c *config.Config) { c.Database.DSN = "" }, "database.dsn is required"},
		{"bad policy", func(c *config.Config) { c.Ledger.Overpayment = "refund" }, "unknown ledger.overpayment"},
		{"bad port", func(c *config.Config) { c.HTTP.Port = 70000 }, "out of range"},
		{"bad level", func(c *config.Config) { c.Log.Level = "chatty" }, "log.level"},
		{"negative interval", func(c *config.Config) { c.Audit.Interval = -time.Second }, "audit.interval"},
		{"no retries", func(c *config.Config) { c.Database.RetryAttempts = 0 }, "retry_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
