package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsrelay/opsrelay/common/environment"
)

// Config is the relay's full runtime configuration. Values come from an
// optional YAML file (OPSRELAY_CONFIG) with environment variables taking
// precedence.
type Config struct {
	ListenAddr   string   `yaml:"listen_addr"`
	DatabasePath string   `yaml:"database_path"`
	CORSOrigins  []string `yaml:"cors_origins"`

	Gateway struct {
		URL   string `yaml:"url"`
		Token string `yaml:"token"`
	} `yaml:"gateway"`

	Intent struct {
		APIKey  string        `yaml:"api_key"`
		BaseURL string        `yaml:"base_url"`
		Model   string        `yaml:"model"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"intent"`

	AWS struct {
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"aws"`

	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

func loadConfig() (*Config, error) {
	cfg := &Config{}

	if path := environment.StringOr("OPSRELAY_CONFIG", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	// Environment overrides, with the YAML value (or the built-in default)
	// as the fallback.
	cfg.ListenAddr = environment.StringOr("OPSRELAY_LISTEN_ADDR", orDefault(cfg.ListenAddr, ":8080"))
	cfg.DatabasePath = environment.StringOr("OPSRELAY_DB_PATH", orDefault(cfg.DatabasePath, "./opsrelay.db"))
	cfg.CORSOrigins = environment.StringSliceOr("OPSRELAY_CORS_ORIGINS", cfg.CORSOrigins)

	cfg.Gateway.URL = environment.StringOr("OPSRELAY_GATEWAY_URL", cfg.Gateway.URL)
	cfg.Gateway.Token = environment.StringOr("OPSRELAY_GATEWAY_TOKEN", cfg.Gateway.Token)

	cfg.Intent.APIKey = environment.StringOr("OPSRELAY_INTENT_API_KEY", cfg.Intent.APIKey)
	cfg.Intent.BaseURL = environment.StringOr("OPSRELAY_INTENT_BASE_URL", cfg.Intent.BaseURL)
	cfg.Intent.Model = environment.StringOr("OPSRELAY_INTENT_MODEL", cfg.Intent.Model)
	cfg.Intent.Timeout = environment.DurationOr("OPSRELAY_INTENT_TIMEOUT", cfg.Intent.Timeout)

	cfg.AWS.Region = environment.StringOr("AWS_REGION", orDefault(cfg.AWS.Region, "us-east-1"))
	cfg.AWS.Endpoint = environment.StringOr("OPSRELAY_AWS_ENDPOINT", cfg.AWS.Endpoint)
	cfg.AWS.AccessKey = environment.StringOr("AWS_ACCESS_KEY_ID", cfg.AWS.AccessKey)
	cfg.AWS.SecretKey = environment.StringOr("AWS_SECRET_ACCESS_KEY", cfg.AWS.SecretKey)

	cfg.TurnTimeout = environment.DurationOr("OPSRELAY_TURN_TIMEOUT", orDefaultDuration(cfg.TurnTimeout, 2*time.Minute))

	if cfg.Gateway.URL == "" {
		return nil, fmt.Errorf("gateway URL is required (OPSRELAY_GATEWAY_URL)")
	}
	return cfg, nil
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func orDefaultDuration(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
