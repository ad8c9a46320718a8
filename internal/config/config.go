package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "ATLAS"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "atlas.db"
	defaultLogLevel         = "info"
	defaultTokenTTLMinutes  = 60
	defaultStorageProviders = "r2"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	SigningSecret      string
	TokenTTL           time.Duration
	StorageProviders   []string
	GCSBucket          string
	GCSCredentialsFile string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("storage.providers", defaultStorageProviders)
	configViper.SetDefault("storage.gcs_bucket", "")
	configViper.SetDefault("storage.gcs_credentials_file", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTL:           time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		StorageProviders:   splitProviders(configViper.GetString("storage.providers")),
		GCSBucket:          configViper.GetString("storage.gcs_bucket"),
		GCSCredentialsFile: configViper.GetString("storage.gcs_credentials_file"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func splitProviders(raw string) []string {
	parts := strings.Split(raw, ",")
	providers := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			providers = append(providers, trimmed)
		}
	}
	return providers
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.StorageProviders) == 0 {
		return fmt.Errorf("storage.providers must list at least one provider")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	return nil
}
