package postgres

import (
	"fmt"

	"agent-platform/internal/common/validation"
)

// Config holds PostgreSQL adapter settings.
type Config struct {
	Host     string `json:"host" validate:"required"`
	Port     int    `json:"port" validate:"min=1,max=65535"`
	Database string `json:"database" validate:"required"`
	User     string `json:"user" validate:"required"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode" validate:"omitempty,oneof=disable require verify-ca verify-full"`
}

// Validate applies defaults and checks the configuration.
func (c *Config) Validate() error {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return validation.ValidateStruct(c)
}

// DSN returns the pgx connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}
