package config

import (
	"fmt"
	"strings"
	"time"

	translation "github.com/23skdu/longbow-kurdish/internal/config"
)

type Config struct {
	Port           int
	MetricsPort    int
	Host           string
	APIKey         string
	APIRateLimit   int
	AllowedOrigins []string

	SessionTTL time.Duration
	LogLevel   string
	LogFormat  string

	Translation translation.Config
}

func DefaultConfig() Config {
	return Config{
		Port:         8080,
		MetricsPort:  9090,
		Host:         "0.0.0.0",
		APIRateLimit: 100,
		SessionTTL:   30 * time.Minute,
		LogLevel:     "info",
		LogFormat:    "console",
		Translation:  translation.Default(),
	}
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics_port: %d", c.MetricsPort)
	}
	if c.MetricsPort != 0 && c.MetricsPort == c.Port {
		return fmt.Errorf("invalid metrics_port: %d (same as port)", c.MetricsPort)
	}
	if c.APIRateLimit <= 0 {
		return fmt.Errorf("invalid api_rate_limit: %d (must be positive)", c.APIRateLimit)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("invalid session_ttl: %s (must be positive)", c.SessionTTL)
	}
	return c.Translation.Validate()
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// ParseOrigins splits a comma-separated origin list, dropping blanks.
func ParseOrigins(origins string) []string {
	var result []string
	for _, origin := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
