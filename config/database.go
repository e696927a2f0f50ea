package config

import (
	"fmt"
	"net"
	"strconv"
)

// DBConfig contains PostgreSQL database configuration. DATABASE_URL wins when
// set; otherwise the DSN is assembled from the individual parts.
type DBConfig struct {
	URL      string `env:"DATABASE_URL"`
	Host     string `env:"DB_HOST"     envDefault:"localhost"`
	Port     int    `env:"DB_PORT"     envDefault:"5432"`
	User     string `env:"DB_USER"     envDefault:"torale"`
	Password string `env:"DB_PASSWORD" envDefault:"torale"`
	Name     string `env:"DB_NAME"     envDefault:"torale"`
	SSLMode  string `env:"DB_SSL_MODE" envDefault:"disable"`

	MaxOpenConns int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`

	RunMigrationsOnStart bool `env:"DB_RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// DSN returns the connection string for database/sql.
func (c DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	hostPort := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		c.User, c.Password, hostPort, c.Name, c.SSLMode)
}

// RedisConfig contains Redis configuration for the history cache.
type RedisConfig struct {
	// Enabled toggles the read-through history cache. The runtime degrades to
	// direct database reads when disabled or unreachable.
	Enabled  bool   `env:"REDIS_ENABLED"  envDefault:"false"`
	Addr     string `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB"       envDefault:"0"`
}
