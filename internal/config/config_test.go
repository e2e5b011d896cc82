package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("KTK_AUTH_SECRET", "s3cret")
	t.Setenv("KTK_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, 1600*time.Millisecond, cfg.TypingTTL)
	assert.Equal(t, 8*time.Second, cfg.ICEGrace)
	assert.Equal(t, 30, cfg.Rate.Limit)
	assert.Equal(t, "push.notify", cfg.Push.Subject)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := "port: 7000\nice_grace: 3s\nauth:\n  jwks_url: https://idp.example/jwks\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.ICEGrace)
	assert.Equal(t, "https://idp.example/jwks", cfg.Auth.JWKSURL)
}

func TestLoadRequiresAuth(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	_, err := Load()
	assert.Error(t, err)
}
