package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPoolSize int

	// AMQP (optional; empty URL disables event publishing)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "3000"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "energy"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "energy"),
		DBPoolSize: getEnvInt("DB_POOL_SIZE", 10),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "meterlog"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "reading_events"),
	}
}

// DatabaseURL builds the connection string for the pgx pool.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   c.DBHost + ":" + c.DBPort,
		Path:   "/" + c.DBName,
	}
	if c.DBPassword != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	} else {
		u.User = url.User(c.DBUser)
	}
	q := u.Query()
	q.Set("pool_max_conns", strconv.Itoa(c.DBPoolSize))
	u.RawQuery = q.Encode()
	return u.String()
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate HTTP port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate database connectivity settings
	if c.DBHost == "" {
		errors = append(errors, "database host cannot be empty")
	}
	if port, err := strconv.Atoi(c.DBPort); err != nil {
		errors = append(errors, fmt.Sprintf("invalid database port '%s': must be a number", c.DBPort))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid database port %d: must be between 1 and 65535", port))
	}
	if c.DBUser == "" {
		errors = append(errors, "database user cannot be empty")
	}
	if c.DBName == "" {
		errors = append(errors, "database name cannot be empty")
	}
	if c.DBPoolSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid pool size %d: must be at least 1", c.DBPoolSize))
	} else if c.DBPoolSize > 100 {
		errors = append(errors, fmt.Sprintf("invalid pool size %d: must be at most 100", c.DBPoolSize))
	}

	// Validate AMQP settings if event publishing is enabled
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
