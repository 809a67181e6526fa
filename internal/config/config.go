// Package config loads the substrate's configuration options, per
// spec.md §6: SERVICE_NAME, RABBITMQ_URL, DATABASE_URL, TASKS_PACKAGE
// from the environment, plus a service_name YAML mirror consulted only
// when SERVICE_NAME is unset.
//
// Shaped after email-service/internal/config/config.go: godotenv.Load
// followed by typed getInt/getDuration helpers, then validated
// once with go-playground/validator.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every option spec.md §6 recognizes.
type Config struct {
	ServiceName  string        `validate:"required"`
	RabbitMQURL  string        `validate:"required,url|uri"`
	DatabaseURL  string        `validate:"required"`
	TasksPackage string        `validate:"required"`
	ShutdownWait time.Duration `validate:"gt=0"`
	Prefetch     int           `validate:"gt=0"`
}

// yamlMirror is the shape of the optional service_name YAML config file.
type yamlMirror struct {
	ServiceName string `yaml:"service_name"`
}

var validate = validator.New()

// Load reads .env (if present), then the environment, falling back to a
// YAML config file for service_name when SERVICE_NAME is unset, and
// validates the result.
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.ServiceName = strings.TrimSpace(os.Getenv("SERVICE_NAME"))
	if cfg.ServiceName == "" {
		cfg.ServiceName = serviceNameFromYAML(yamlPath)
	}

	cfg.RabbitMQURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.TasksPackage = strings.TrimSpace(os.Getenv("TASKS_PACKAGE"))

	cfg.ShutdownWait = getDuration("SHUTDOWN_WAIT", 10*time.Second)
	cfg.Prefetch = getInt("RABBITMQ_PREFETCH", 10)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

func serviceNameFromYAML(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var m yamlMirror
	if err := yaml.Unmarshal(data, &m); err != nil {
		return ""
	}
	return strings.TrimSpace(m.ServiceName)
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n := def
	_, _ = fmt.Sscanf(v, "%d", &n)
	if n <= 0 {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
