package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearSecretEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.API.PageSize)
	assert.Equal(t, "INBOX", cfg.Mailbox.Folder)
	assert.Equal(t, DefaultLinkPattern, cfg.Mailbox.LinkPattern)
	assert.Equal(t, "keyring", cfg.Storage.CredentialBackend)
	assert.True(t, cfg.Identity.AllowTokenFallback)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv("GMAIL_PASSWORD", "app-password")
	t.Setenv("SCALER_AUTH", "seed-token")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mailbox:
  username: someone@example.com
identity:
  email: someone@example.com
api:
  page_size: 20
poll:
  interval_sec: 10
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "someone@example.com", cfg.Mailbox.Username)
	assert.Equal(t, "app-password", cfg.Mailbox.Password)
	assert.Equal(t, "seed-token", cfg.SeedToken)
	assert.Equal(t, 20, cfg.API.PageSize)
	assert.Equal(t, time.Minute, cfg.PollInterval())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	clearSecretEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [unclosed"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidateListsMissingSecrets(t *testing.T) {
	cfg := &AppConfig{Storage: StorageConfig{CredentialBackend: "keyring"}}

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrMissingSecret)
	assert.Contains(t, err.Error(), "mailbox.username")
	assert.Contains(t, err.Error(), "mailbox.password")
	assert.Contains(t, err.Error(), "identity.email")
}

func TestValidateCredentialBackend(t *testing.T) {
	cfg := &AppConfig{
		Mailbox:  MailboxConfig{Username: "u", Password: "p"},
		Identity: IdentityConfig{Email: "u"},
		Storage:  StorageConfig{CredentialBackend: "vault"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingSecret)
}

func TestCycleTimeoutCoversRefresh(t *testing.T) {
	cfg := &AppConfig{
		API:     APIConfig{TimeoutSec: 30},
		Refresh: RefreshConfig{MaxDelaySec: 30, DeadlineSec: 600},
	}

	assert.Greater(t, cfg.CycleTimeout(), 630*time.Second)

	var zero AppConfig
	assert.Greater(t, zero.CycleTimeout(), 2*time.Minute)
}
