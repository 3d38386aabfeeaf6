// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	custom_errors "repo-metadata-sync/internal/errors"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	LogFormat       string        `mapstructure:"LOG_FORMAT"`
	GithubToken     string        `mapstructure:"GITHUB_TOKEN"`
	GithubAPIURL    string        `mapstructure:"GITHUB_API_URL"`
	Account         string        `mapstructure:"GITHUB_USER_OR_ORG"`
	StoreConnString string        `mapstructure:"AZURE_TABLE_CONN"`
	RepoTable       string        `mapstructure:"REPO_METADATA_TABLE"`
	FileTable       string        `mapstructure:"FILE_METADATA_TABLE"`
	CursorTable     string        `mapstructure:"COMMIT_TRACKER_TABLE"`
	MaxWorkers      int           `mapstructure:"MAX_WORKERS"`
	ScanInterval    time.Duration `mapstructure:"SCAN_INTERVAL"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR"`
}

// envAliases lists keys that may also be supplied under other variable names.
var envAliases = map[string][]string{
	"GITHUB_USER_OR_ORG": {"GITHUB_ORG"},
	"AZURE_TABLE_CONN":   {"AZURE_STORAGE_CONN_STRING"},
}

// LoadConfig reads configuration from an optional .env file in dir and from
// environment variables, which take precedence.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("GITHUB_API_URL", "")
	v.SetDefault("REPO_METADATA_TABLE", "repometadata")
	v.SetDefault("FILE_METADATA_TABLE", "RepoFileMetadata")
	v.SetDefault("COMMIT_TRACKER_TABLE", "GitRepoCommits")
	v.SetDefault("MAX_WORKERS", 32)
	v.SetDefault("SCAN_INTERVAL", "0s")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("HTTP_ADDR", ":8080")

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	// Bind every key explicitly so Unmarshal sees variables that have no default.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{
		"LOG_LEVEL", "LOG_FORMAT", "GITHUB_TOKEN", "GITHUB_API_URL", "GITHUB_USER_OR_ORG",
		"AZURE_TABLE_CONN", "REPO_METADATA_TABLE", "FILE_METADATA_TABLE", "COMMIT_TRACKER_TABLE",
		"MAX_WORKERS", "SCAN_INTERVAL", "REDIS_URL", "HTTP_ADDR",
	} {
		if err := v.BindEnv(append([]string{key, key}, envAliases[key]...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.MaxWorkers <= 0 {
		return nil, errors.New("MAX_WORKERS must be a positive integer")
	}
	if cfg.ScanInterval < 0 {
		return nil, errors.New("SCAN_INTERVAL must not be negative")
	}

	return &cfg, nil
}

// ValidateSeed checks the fields the seed pipeline cannot run without.
func (c *Config) ValidateSeed() error {
	return requireFields(
		"GITHUB_TOKEN", c.GithubToken,
		"GITHUB_USER_OR_ORG", c.Account,
		"AZURE_TABLE_CONN", c.StoreConnString,
	)
}

// ValidateScan checks the fields the scan pipeline cannot run without.
func (c *Config) ValidateScan() error {
	return requireFields(
		"GITHUB_TOKEN", c.GithubToken,
		"AZURE_TABLE_CONN", c.StoreConnString,
	)
}

// requireFields takes key/value pairs and reports every key whose value is empty.
func requireFields(pairs ...string) error {
	var errs []error
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			errs = append(errs, &custom_errors.MissingConfigError{Key: pairs[i]})
		}
	}
	return errors.Join(errs...)
}
