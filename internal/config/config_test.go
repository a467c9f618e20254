package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 4, cfg.Dispatch.Workers)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Dispatch.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.MaxDelay)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.SendTimeout)
	assert.Equal(t, "smtp", cfg.Mail.Provider)
	assert.True(t, cfg.Mail.SMTP.RequireTLS)
	assert.Equal(t, 168*time.Hour, cfg.Redis.TTL)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mailer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dispatch:
  workers: 8
  base_delay: 250ms
mail:
  provider: resend
storage:
  dir: /var/lib/mailer
`), 0o644))

	t.Setenv("MAILER_DISPATCH_MAX_ATTEMPTS", "5")
	t.Setenv("MAILER_DATABASE_URL", "postgres://localhost/mailer")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Dispatch.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatch.BaseDelay)
	assert.Equal(t, 5, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, "resend", cfg.Mail.Provider)
	assert.Equal(t, "/var/lib/mailer", cfg.Storage.Dir)
	assert.Equal(t, "postgres://localhost/mailer", cfg.Database.URL)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Dispatch: DispatchConfig{Workers: 1, MaxAttempts: 1},
			Mail:     MailConfig{Provider: "smtp"},
		}
	}

	cfg := valid()
	assert.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.Dispatch.Workers = 0
	assert.ErrorContains(t, cfg.Validate(), "workers")

	cfg = valid()
	cfg.Dispatch.MaxAttempts = -1
	assert.ErrorContains(t, cfg.Validate(), "max_attempts")

	cfg = valid()
	cfg.Mail.Provider = "carrier-pigeon"
	assert.ErrorContains(t, cfg.Validate(), "provider")
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MAILER_DISPATCH_WORKERS", "0")

	_, err := Load("")
	assert.ErrorContains(t, err, "workers")
}
