package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/firmsync/firmsync/internal/errors"
)

const validYAML = `
version: "1"
provider:
  base_url: https://api.practicehub.example
  token_url: https://auth.practicehub.example/oauth/token
  client_id: client-123
  client_secret: secret-456
  redirect_uri: https://app.example/oauth/callback
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, "client-123", cfg.Provider.ClientID)

	// Defaults applied by validation.
	assert.Equal(t, 100, cfg.Sync.PageSize)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 200, cfg.Sync.SafetyPageLimit)
	assert.Equal(t, 30*time.Second, cfg.Sync.Cooldown)
	assert.Equal(t, 200*time.Millisecond, cfg.Sync.InterCallDelay)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 8417, cfg.Server.HTTPPort)
	assert.Equal(t, "X-API-Key", cfg.API.HeaderName)
}

func TestParseMissingProviderCredentials(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing client_id",
			yaml: `
version: "1"
provider:
  base_url: https://api.example
  token_url: https://auth.example/token
  client_secret: secret
`,
		},
		{
			name: "missing token_url",
			yaml: `
version: "1"
provider:
  base_url: https://api.example
  client_id: id
  client_secret: secret
`,
		},
		{
			name: "missing version",
			yaml: `
provider:
  base_url: https://api.example
  token_url: https://auth.example/token
  client_id: id
  client_secret: secret
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var verr *apperrors.ErrConfigValidation
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("version: [unclosed"))
	require.Error(t, err)
	var perr *apperrors.ErrConfigParse
	assert.ErrorAs(t, err, &perr)
}

func TestSyncConfigRejectsNegativeValues(t *testing.T) {
	cfg := SyncConfig{PageSize: -1}
	assert.Error(t, cfg.Validate())

	cfg = SyncConfig{SafetyPageLimit: -5}
	assert.Error(t, cfg.Validate())
}

func TestRetentionConfigDefaults(t *testing.T) {
	cfg := RetentionConfig{}
	assert.NoError(t, cfg.Validate())

	cfg = RetentionConfig{Enabled: true}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6*time.Hour, cfg.Interval)
	assert.Equal(t, 30*24*time.Hour, cfg.RunRetention)
	assert.Equal(t, 90*24*time.Hour, cfg.TokenRetention)

	cfg = RetentionConfig{Enabled: true, RunRetention: -time.Hour}
	assert.Error(t, cfg.Validate())
}

func TestTelegramConfigValidation(t *testing.T) {
	cfg := TelegramConfig{Enabled: false}
	assert.NoError(t, cfg.Validate())

	cfg = TelegramConfig{Enabled: true}
	assert.Error(t, cfg.Validate())

	cfg = TelegramConfig{Enabled: true, BotToken: "tok", ChatID: 42}
	assert.NoError(t, cfg.Validate())
}

func TestLoaderEnvSubstitution(t *testing.T) {
	t.Setenv("FIRMSYNC_TEST_SECRET", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
version: "1"
provider:
  base_url: https://api.example
  token_url: https://auth.example/token
  client_id: id
  client_secret: ${FIRMSYNC_TEST_SECRET}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Provider.ClientSecret)
	assert.Same(t, cfg, loader.Get())
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := loader.Load()
	require.Error(t, err)
	var nf *apperrors.ErrConfigNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestLoaderReloadCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	called := make(chan *Config, 1)
	loader.SetOnChange(func(c *Config) { called <- c })

	_, err = loader.Reload()
	require.NoError(t, err)

	select {
	case cfg := <-called:
		assert.Equal(t, "1", cfg.Version)
	default:
		t.Fatal("onChange callback was not invoked")
	}
}
