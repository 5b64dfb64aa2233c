/*
Package config loads service configuration.

SOURCES (later wins):
  1. Defaults
  2. YAML file given by -config (optional)
  3. .env file given by -env-file (default ".env", ignored when missing);
     it only fills variables not already set in the environment
  4. LEDGER_* environment variables
  5. Command-line flags: -port -db-driver -db

ENVIRONMENT:
  LEDGER_HTTP_PORT          LEDGER_ALLOWED_ORIGINS (comma separated)
  LEDGER_DB_DRIVER          LEDGER_DB_DSN
  LEDGER_DB_MAX_OPEN_CONNS  LEDGER_DB_MAX_IDLE_CONNS  LEDGER_DB_RETRY_ATTEMPTS
  LEDGER_STRICT_STOCK       LEDGER_OVERPAYMENT        LEDGER_PHONE_REGION
  LEDGER_LOG_LEVEL          LEDGER_LOG_FORMAT
  LEDGER_AUDIT_INTERVAL     (Go duration, 0 disables the periodic audit)

EXAMPLE (config.yaml):
  http:
    port: 8080
  database:
    driver: mysql
    dsn: mill:secret@tcp(localhost:3306)/mill
  ledger:
    overpayment: credit
  audit:
    interval: 1h
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ricemill/stock-ledger/ledger"
	"github.com/ricemill/stock-ledger/logging"
	"github.com/ricemill/stock-ledger/store/sqlstore"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Log      LogConfig      `yaml:"log"`
	Audit    AuditConfig    `yaml:"audit"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	MaxIdleConns  int    `yaml:"max_idle_conns"`
	RetryAttempts int    `yaml:"retry_attempts"`
}

type LedgerConfig struct {
	StrictStock bool   `yaml:"strict_stock"`
	Overpayment string `yaml:"overpayment"`
	PhoneRegion string `yaml:"phone_region"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuditConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{
			Driver:        sqlstore.DriverSQLite,
			DSN:           "mill.db",
			RetryAttempts: 5,
		},
		Ledger: LedgerConfig{
			Overpayment: string(ledger.OverpaymentCredit),
			PhoneRegion: ledger.DefaultPhoneRegion,
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatJSON,
		},
	}
}

// Load builds the configuration for a command named name from args
// (without the program name) and the process environment.
func Load(name string, args []string) (*Config, error) {
	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fset.String("config", "", "YAML configuration file")
	envFile := fset.String("env-file", ".env", "dotenv file, ignored when missing")
	port := fset.Int("port", 0, "HTTP server port")
	driver := fset.String("db-driver", "", "database driver: sqlite3, mysql or postgres")
	dsn := fset.String("db", "", `database DSN; for sqlite3 a file path or ":memory:"`)
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()

	if *configPath != "" {
		if err := cfg.loadYAML(*configPath); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", *envFile, err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.HTTP.Port = *port
		case "db-driver":
			cfg.Database.Driver = *driver
		case "db":
			cfg.Database.DSN = *dsn
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	num("LEDGER_HTTP_PORT", &c.HTTP.Port)
	if v, ok := lookup("LEDGER_ALLOWED_ORIGINS"); ok && v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	str("LEDGER_DB_DRIVER", &c.Database.Driver)
	str("LEDGER_DB_DSN", &c.Database.DSN)
	num("LEDGER_DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	num("LEDGER_DB_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	num("LEDGER_DB_RETRY_ATTEMPTS", &c.Database.RetryAttempts)
	if v, ok := lookup("LEDGER_STRICT_STOCK"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LEDGER_STRICT_STOCK: %w", err))
		} else {
			c.Ledger.StrictStock = b
		}
	}
	str("LEDGER_OVERPAYMENT", &c.Ledger.Overpayment)
	str("LEDGER_PHONE_REGION", &c.Ledger.PhoneRegion)
	str("LEDGER_LOG_LEVEL", &c.Log.Level)
	str("LEDGER_LOG_FORMAT", &c.Log.Format)
	if v, ok := lookup("LEDGER_AUDIT_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LEDGER_AUDIT_INTERVAL: %w", err))
		} else {
			c.Audit.Interval = d
		}
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	switch c.Database.Driver {
	case sqlstore.DriverSQLite, sqlstore.DriverMySQL, sqlstore.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Database.RetryAttempts < 1 {
		errs = append(errs, errors.New("database.retry_attempts must be at least 1"))
	}
	if !ledger.OverpaymentPolicy(c.Ledger.Overpayment).Valid() {
		errs = append(errs, fmt.Errorf("unknown ledger.overpayment %q (credit, reject or legacy)", c.Ledger.Overpayment))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != logging.FormatJSON && c.Log.Format != logging.FormatText {
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if c.Audit.Interval < 0 {
		errs = append(errs, errors.New("audit.interval must not be negative"))
	}
	return errors.Join(errs...)
}

// EngineOptions maps the ledger section onto engine options.
func (c *Config) EngineOptions() ledger.Options {
	return ledger.Options{
		StrictStock: c.Ledger.StrictStock,
		Overpayment: ledger.OverpaymentPolicy(c.Ledger.Overpayment),
		PhoneRegion: c.Ledger.PhoneRegion,
	}
}

// StoreConfig maps the database section onto sqlstore settings.
func (c *Config) StoreConfig() sqlstore.Config {
	return sqlstore.Config{
		Driver:        c.Database.Driver,
		DSN:           c.Database.DSN,
		MaxOpenConns:  c.Database.MaxOpenConns,
		MaxIdleConns:  c.Database.MaxIdleConns,
		RetryAttempts: c.Database.RetryAttempts,
	}
}

// LoggingConfig maps the log section onto logging settings.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}
