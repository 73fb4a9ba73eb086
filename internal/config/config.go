// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-bound setting used by the API and worker
// binaries. Field names mirror app/settings.py in the original service.
type Config struct {
	DatabaseURL string

	ServerHost string
	ServerPort int

	JSONWebTokenSecret    string
	JSONWebTokenAlgorithm string

	RobinhoodClientID    string
	RobinhoodDeviceToken string

	EncryptionSecretKey string

	AssetUpdateTaskFrequencySeconds   int
	RefreshTokensTaskFrequencySeconds int

	LogLevel  string
	LogFormat string

	DBMaxOpenConns int
	DBMaxIdleConns int
}

// Load reads Config from the process environment, applying defaults and
// collecting every validation failure before returning, rather than
// failing on the first missing variable.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:                       os.Getenv("DATABASE_URL"),
		ServerHost:                        getenvDefault("SERVER_HOST", "0.0.0.0"),
		JSONWebTokenSecret:                os.Getenv("JSON_WEB_TOKEN_SECRET"),
		JSONWebTokenAlgorithm:             getenvDefault("JSON_WEB_TOKEN_ALGORITHM", "HS256"),
		RobinhoodClientID:                 os.Getenv("ROBINHOOD_CLIENT_ID"),
		RobinhoodDeviceToken:              os.Getenv("ROBINHOOD_DEVICE_TOKEN"),
		EncryptionSecretKey:               os.Getenv("ENCRYPTION_SECRET_KEY"),
		LogLevel:                          getenvDefault("LOG_LEVEL", "info"),
		LogFormat:                         getenvDefault("LOG_FORMAT", "text"),
	}

	var errs []string

	port, err := strconv.Atoi(getenvDefault("SERVER_PORT", "8000"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be an integer: %v", err))
	}
	cfg.ServerPort = port

	cfg.AssetUpdateTaskFrequencySeconds = intEnvDefault("ASSET_UPDATE_TASK_FREQUENCY_SECONDS", 86400, &errs)
	cfg.RefreshTokensTaskFrequencySeconds = intEnvDefault("REFRESH_TOKENS_TASK_FREQUENCY_SECONDS", 86400, &errs)
	cfg.DBMaxOpenConns = intEnvDefault("DB_MAX_OPEN_CONNS", 10, &errs)
	cfg.DBMaxIdleConns = intEnvDefault("DB_MAX_IDLE_CONNS", 10, &errs)

	checks := []struct {
		bad    bool
		errMsg string
	}{
		{cfg.DatabaseURL == "", "DATABASE_URL is required"},
		{cfg.JSONWebTokenSecret == "", "JSON_WEB_TOKEN_SECRET is required"},
		{cfg.RobinhoodClientID == "", "ROBINHOOD_CLIENT_ID is required"},
		{cfg.RobinhoodDeviceToken == "", "ROBINHOOD_DEVICE_TOKEN is required"},
		{cfg.EncryptionSecretKey == "", "ENCRYPTION_SECRET_KEY is required"},
		{cfg.AssetUpdateTaskFrequencySeconds <= 0, "ASSET_UPDATE_TASK_FREQUENCY_SECONDS must be a positive integer"},
		{cfg.RefreshTokensTaskFrequencySeconds <= 0, "REFRESH_TOKENS_TASK_FREQUENCY_SECONDS must be a positive integer"},
		{cfg.LogFormat != "text" && cfg.LogFormat != "json", "LOG_FORMAT must be one of: text, json"},
	}
	for _, c := range checks {
		if c.bad {
			errs = append(errs, c.errMsg)
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnvDefault(key string, def int, errs *[]string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer: %v", key, err))
		return def
	}
	return n
}
