package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"graph-indexer/internal/dialect"
)

// DriverName returns the database/sql driver to open, defaulting to pgx.
func (d *DatabaseConfig) DriverName() string {
	driver := strings.ToLower(strings.TrimSpace(d.Driver))
	if driver == "" {
		return "pgx"
	}
	return driver
}

// Dialect resolves the SQL dialect implied by the configured driver.
func (d *DatabaseConfig) Dialect() (dialect.Dialect, error) {
	return dialect.ForDriver(d.DriverName())
}

// DSN builds a driver-specific data source name. An explicit dsn wins over the
// discrete fields.
func (d *DatabaseConfig) DSN() string {
	if strings.TrimSpace(d.ConnectionString) != "" {
		return d.ConnectionString
	}

	switch d.DriverName() {
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		cfg.DBName = d.Database
		cfg.ParseTime = true
		cfg.MultiStatements = true
		return cfg.FormatDSN()
	default:
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
			Path:   "/" + d.Database,
		}
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else if d.User != "" {
			u.User = url.User(d.User)
		}
		if d.SSLMode != "" {
			q := url.Values{}
			q.Set("sslmode", d.SSLMode)
			u.RawQuery = q.Encode()
		}
		return u.String()
	}
}

// RedactedDSN renders the DSN with any password masked, for logging.
func (d *DatabaseConfig) RedactedDSN() string {
	dsn := d.DSN()
	if d.DriverName() == "mysql" {
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "<unparseable dsn>"
		}
		if cfg.Passwd != "" {
			cfg.Passwd = "xxxxx"
		}
		return cfg.FormatDSN()
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "<unparseable dsn>"
	}
	return u.Redacted()
}

// Address returns host:port for log attributes, or a DSN description.
func (d *DatabaseConfig) Address() string {
	if strings.TrimSpace(d.ConnectionString) != "" {
		return fmt.Sprintf("dsn(%s)", d.DriverName())
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}
