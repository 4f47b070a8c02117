package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend struct {
		BaseURL  string `yaml:"base_url"`
		CableURL string `yaml:"cable_url"`
	} `yaml:"backend"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads the YAML config and applies environment overrides. A
// missing file is not an error; everything has a default or an env source.
func loadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.Backend.BaseURL = getEnv("BACKEND_URL", defaultString(config.Backend.BaseURL, "http://localhost:3000"))
	config.Backend.CableURL = getEnv("CABLE_URL", defaultString(config.Backend.CableURL, "ws://localhost:3000/cable"))
	config.Log.Level = getEnv("LOG_LEVEL", defaultString(config.Log.Level, "info"))

	return &config, nil
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
