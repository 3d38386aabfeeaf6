package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "repo-metadata-sync/internal/errors"
)

// clearEnv blanks every variable LoadConfig reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LOG_LEVEL", "LOG_FORMAT", "GITHUB_TOKEN", "GITHUB_API_URL", "GITHUB_USER_OR_ORG", "GITHUB_ORG",
		"AZURE_TABLE_CONN", "AZURE_STORAGE_CONN_STRING", "REPO_METADATA_TABLE", "FILE_METADATA_TABLE",
		"COMMIT_TRACKER_TABLE", "MAX_WORKERS", "SCAN_INTERVAL", "REDIS_URL", "HTTP_ADDR",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "repometadata", cfg.RepoTable)
	assert.Equal(t, "RepoFileMetadata", cfg.FileTable)
	assert.Equal(t, "GitRepoCommits", cfg.CursorTable)
	assert.Equal(t, 32, cfg.MaxWorkers)
	assert.Equal(t, time.Duration(0), cfg.ScanInterval)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadConfig_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("GITHUB_USER_OR_ORG", "acme")
	t.Setenv("AZURE_TABLE_CONN", "memory://")
	t.Setenv("MAX_WORKERS", "8")
	t.Setenv("SCAN_INTERVAL", "15m")

	cfg, err := LoadConfig(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "ghp_test", cfg.GithubToken)
	assert.Equal(t, "acme", cfg.Account)
	assert.Equal(t, "memory://", cfg.StoreConnString)
	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, 15*time.Minute, cfg.ScanInterval)
	assert.NoError(t, cfg.ValidateSeed())
	assert.NoError(t, cfg.ValidateScan())
}

func TestLoadConfig_Aliases(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_ORG", "octo")
	t.Setenv("AZURE_STORAGE_CONN_STRING", "UseDevelopmentStorage=true")

	cfg, err := LoadConfig(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, "octo", cfg.Account)
	assert.Equal(t, "UseDevelopmentStorage=true", cfg.StoreConnString)
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("GITHUB_TOKEN=from-file\nGITHUB_USER_OR_ORG=file-org\n"), 0o600))
	t.Setenv("GITHUB_USER_OR_ORG", "env-org")

	cfg, err := LoadConfig(dir)

	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.GithubToken)
	assert.Equal(t, "env-org", cfg.Account, "environment overrides the .env file")
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_WORKERS", "0")

	_, err := LoadConfig(t.TempDir())

	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{}

	err := cfg.ValidateSeed()
	require.Error(t, err)
	var missing *custom_errors.MissingConfigError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, err.Error(), "GITHUB_TOKEN")
	assert.Contains(t, err.Error(), "GITHUB_USER_OR_ORG")
	assert.Contains(t, err.Error(), "AZURE_TABLE_CONN")

	cfg.GithubToken = "t"
	cfg.StoreConnString = "memory://"
	assert.NoError(t, cfg.ValidateScan(), "scan does not need an account")
	assert.Error(t, cfg.ValidateSeed())
}
