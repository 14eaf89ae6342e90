package db

import (
	"fmt"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverMySQL      = "mysql"
	DriverPostgreSQL = "postgres"
)

// Config selects a driver and carries the pool settings for it. Only the
// section matching Driver is consulted.
type Config struct {
	Driver   string           `yaml:"driver"`
	MySQL    MySQLConfig      `yaml:"mysql"`
	Postgres PostgreSQLConfig `yaml:"postgres"`
}

// Open connects to the configured database. An empty driver defaults to
// MySQL so existing deployments keep working without a driver line.
func Open(cfg Config) (Database, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMySQL:
		return NewMySQLWithConfig(&cfg.MySQL)
	case DriverPostgreSQL, "postgresql":
		return NewPostgreSQLWithConfig(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
