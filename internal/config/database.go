package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "portfolioq-custom"

// EffectivePort returns Port or the default port of the driver.
func (d *DatabaseConfig) EffectivePort() int {
	if d.Port != 0 {
		return d.Port
	}
	if d.Driver == DriverPostgres {
		return 5432
	}
	return 3306
}

// DSN returns the data source name for the configured driver.
// If ConnectionString is set, it is used directly with the TLS and time
// parameters the engine relies on added when absent.
func (d *DatabaseConfig) DSN() (string, error) {
	if d.Driver == DriverPostgres {
		return d.postgresDSN()
	}
	return d.mysqlDSN()
}

func (d *DatabaseConfig) mysqlDSN() (string, error) {
	var cfg *mysql.Config
	if d.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(d.ConnectionString)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		cfg = parsed
		if d.Database != "" {
			cfg.DBName = d.Database
		}
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.EffectivePort()))
		cfg.DBName = d.Database
	}
	// Scanned DATETIME values must arrive as UTC time.Time.
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	if tlsParam := d.effectiveTLSParam(); tlsParam != "" && cfg.TLSConfig == "" {
		cfg.TLSConfig = tlsParam
	}
	return cfg.FormatDSN(), nil
}

func (d *DatabaseConfig) postgresDSN() (string, error) {
	var u *url.URL
	if d.ConnectionString != "" {
		parsed, err := url.Parse(d.ConnectionString)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
			return "", fmt.Errorf("database.dsn is invalid: expected a postgres:// URL")
		}
		u = parsed
		if d.Database != "" {
			u.Path = "/" + d.Database
		}
	} else {
		u = &url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(d.User, d.Password),
			Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.EffectivePort())),
			Path:   "/" + d.Database,
		}
	}

	q := u.Query()
	if q.Get("sslmode") == "" {
		switch d.TLS.Mode {
		case "off":
			q.Set("sslmode", "disable")
		case "skip-verify":
			q.Set("sslmode", "require")
		case "verify-ca", "verify-full":
			q.Set("sslmode", d.TLS.Mode)
		}
	}
	if d.TLS.CAFile != "" && q.Get("sslrootcert") == "" {
		q.Set("sslrootcert", d.TLS.CAFile)
	}
	if d.TLS.CertFile != "" && q.Get("sslcert") == "" {
		q.Set("sslcert", d.TLS.CertFile)
		q.Set("sslkey", d.TLS.KeyFile)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// EffectiveDatabaseName returns the database the engine targets.
func (d *DatabaseConfig) EffectiveDatabaseName() (name string, source string, err error) {
	return resolveEffectiveDatabaseName(d.Driver, d.Database, d.ConnectionString)
}

func resolveEffectiveDatabaseName(driver, databaseName, connectionString string) (name string, source string, err error) {
	configDatabase := strings.TrimSpace(databaseName)
	dsnDatabase, parseErr := parseDSNDatabaseName(driver, connectionString)
	if parseErr != nil {
		return "", "", parseErr
	}

	if configDatabase != "" {
		if dsnDatabase != "" && configDatabase != dsnDatabase {
			return "", "", fmt.Errorf(
				"database mismatch: database.database=%q but database.dsn targets %q",
				configDatabase,
				dsnDatabase,
			)
		}
		return configDatabase, "database.database", nil
	}

	if dsnDatabase != "" {
		return dsnDatabase, "dsn", nil
	}

	return "", "", fmt.Errorf(
		"no effective database name configured: set database.database or include /<database> in database.dsn/database.dsn_file",
	)
}

func parseDSNDatabaseName(driver, connectionString string) (string, error) {
	dsn := strings.TrimSpace(connectionString)
	if dsn == "" {
		return "", nil
	}

	if driver == DriverPostgres {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		return strings.Trim(parsed.Path, "/"), nil
	}

	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return strings.TrimSpace(parsed.DBName), nil
}

// effectiveTLSParam returns the MySQL tls parameter for the configured mode,
// or "" when no TLS mode is set.
func (d *DatabaseConfig) effectiveTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// Must be called before opening the database connection when using verify-ca or verify-full modes.
// Returns nil if no custom TLS configuration is needed.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.Driver == DriverPostgres {
		return nil
	}
	mode := d.TLS.Mode
	if mode != "verify-ca" && mode != "verify-full" {
		return nil
	}

	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}

	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}

	return nil
}

// buildTLSConfig creates a tls.Config based on the DatabaseTLSConfig settings.
func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if d.TLS.CAFile != "" {
		caCert, err := os.ReadFile(d.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", d.TLS.CAFile, err)
		}

		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", d.TLS.CAFile)
		}
		tlsCfg.RootCAs = certPool
	}

	if d.TLS.CertFile != "" && d.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(d.TLS.CertFile, d.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else if d.TLS.CertFile != "" || d.TLS.KeyFile != "" {
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" {
		tlsCfg.ServerName = d.TLS.ServerName
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = d.Host
		}
	}

	return tlsCfg, nil
}
