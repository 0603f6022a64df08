package sqlite

import "agent-platform/internal/common/validation"

// Config holds SQLite adapter settings.
type Config struct {
	// Path is the database file path; ":memory:" gives an in-memory store.
	Path string `json:"path" validate:"required"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c)
}
