package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the YAML file.
const (
	EnvStorageDriver = "STORAGE_DRIVER"
	EnvStorageDSN    = "STORAGE_DSN"
	EnvLogLevel      = "LOG_LEVEL"
	EnvServerAddr    = "SERVER_ADDR"
)

func LoadConfig(filePath string) (*Config, error) {
	// .env is optional; system env vars work without it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Printf("Warning: failed to close config file: %v", closeErr)
		}
	}()

	cfg := Default()
	// yaml.v3 merges into an existing map; categories from the file replace the defaults
	cfg.Categories = nil

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories()
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvStorageDriver); ok && v != "" {
		c.Storage.Driver = v
	}
	if v, ok := lookup(EnvStorageDSN); ok && v != "" {
		c.Storage.DSN = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Observability.LogLevel = v
	}
	if v, ok := lookup(EnvServerAddr); ok && v != "" {
		c.Server.Addr = v
	}
}
