package rabbitmq

import (
	"fmt"
	"net/url"

	"agent-platform/internal/common/validation"
)

// Config holds RabbitMQ transport settings.
type Config struct {
	URL      string `json:"url" validate:"required,url"`
	Exchange string `json:"exchange" validate:"required"`
	PoolSize int    `json:"pool_size" validate:"min=1,max=100"`
	Prefetch int    `json:"prefetch" validate:"min=1,max=1000"`
}

// Validate applies defaults and checks the configuration.
func (c *Config) Validate() error {
	if c.Exchange == "" {
		c.Exchange = "interface_agent_events"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 5
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 10
	}

	return validation.ValidateStruct(c)
}

// ConnectionString returns the broker address with credentials stripped,
// safe for logs.
func (c *Config) ConnectionString() string {
	if parsedURL, err := url.Parse(c.URL); err == nil {
		parsedURL.User = nil
		return fmt.Sprintf("rabbitmq://%s", parsedURL.Host)
	}
	return "rabbitmq://***"
}
