// Package database owns the PostgreSQL connection used for diagnostics.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config contains PostgreSQL connection settings.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	ConnectTimeout time.Duration
	MaxOpenConns   int
	MaxIdleConns   int
	ConnLifetime   time.Duration
}

// DefaultConfig returns local development defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           5432,
		Database:       "postgres",
		SSLMode:        "disable",
		ConnectTimeout: 5 * time.Second,
		MaxOpenConns:   10,
		MaxIdleConns:   2,
		ConnLifetime:   5 * time.Minute,
	}
}

// Validate checks the config for errors.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("database port %d out of range", c.Port)
	}
	if c.Database == "" {
		return errors.New("database name is required")
	}
	return nil
}

// DSN renders the config as a lib/pq key=value connection string.
// Empty fields are omitted so libpq defaults and PG* variables apply.
func (c Config) DSN() string {
	params := map[string]string{
		"host":    c.Host,
		"user":    c.User,
		"dbname":  c.Database,
		"sslmode": c.SSLMode,
	}
	if c.Password != "" {
		params["password"] = c.Password
	}
	if c.Port > 0 {
		params["port"] = strconv.Itoa(c.Port)
	}
	if c.ConnectTimeout > 0 {
		secs := int(c.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		params["connect_timeout"] = strconv.Itoa(secs)
	}

	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + quoteDSNValue(params[k])
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\\t\n") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// DB wraps a pooled *sql.DB.
type DB struct {
	db *sql.DB
}

// Open prepares a connection pool. It does not connect; the first query
// dials, so a database outage never blocks startup.
func Open(cfg Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)
	return &DB{db: db}, nil
}

// Version runs SELECT version() and returns the server banner.
func (d *DB) Version(ctx context.Context) (string, error) {
	var version string
	if err := d.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Stats returns pool statistics.
func (d *DB) Stats() sql.DBStats {
	return d.db.Stats()
}

// Close closes the pool.
func (d *DB) Close() error {
	return d.db.Close()
}
