package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{EnvSessionDB: "/tmp/s.db"}))
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
	assert.Equal(t, DefaultAuthURL, cfg.AuthURL)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, "/tmp/s.db", cfg.SessionDB)
	assert.Empty(t, cfg.AuthKey)
	assert.Empty(t, cfg.AccessToken)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		EnvAPIURL:      "https://api.example.com/api",
		EnvAuthURL:     "https://auth.example.com/auth/v1",
		EnvAuthKey:     " anon-key ",
		EnvSessionDB:   "/var/lib/nutrition/s.db",
		EnvTimeout:     "3s",
		EnvAccessToken: "tok",
	}))
	require.NoError(t, err)

	assert.Equal(t, Config{
		APIURL:      "https://api.example.com/api",
		AuthURL:     "https://auth.example.com/auth/v1",
		AuthKey:     "anon-key",
		SessionDB:   "/var/lib/nutrition/s.db",
		AccessToken: "tok",
		Timeout:     3 * time.Second,
	}, cfg)
}

func TestFromEnv_InvalidTimeout(t *testing.T) {
	for _, raw := range []string{"soon", "-1s", "0s"} {
		_, err := FromEnv(envMap(map[string]string{EnvSessionDB: "/tmp/s.db", EnvTimeout: raw}))
		assert.Error(t, err, raw)
	}
}

func TestFromEnv_DefaultSessionDB(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, "session.db", filepath.Base(cfg.SessionDB))
	assert.Equal(t, "nutrition", filepath.Base(filepath.Dir(cfg.SessionDB)))
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		EnvAPIURL+"=http://from-file/api\n"+
			EnvAuthKey+"=file-key\n"+
			EnvSessionDB+"="+filepath.Join(dir, "s.db")+"\n",
	), 0o600))

	// The real environment wins over the file.
	t.Setenv(EnvAuthKey, "env-key")
	// godotenv sets variables it loads; register them for cleanup.
	t.Setenv(EnvAPIURL, "")
	os.Unsetenv(EnvAPIURL)
	t.Setenv(EnvSessionDB, "")
	os.Unsetenv(EnvSessionDB)

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "http://from-file/api", cfg.APIURL)
	assert.Equal(t, "env-key", cfg.AuthKey)
	assert.Equal(t, filepath.Join(dir, "s.db"), cfg.SessionDB)
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvSessionDB, filepath.Join(t.TempDir(), "s.db"))
	t.Setenv(EnvAPIURL, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIURL, cfg.APIURL)
}

func TestLoad_MissingNamedFileFails(t *testing.T) {
	t.Setenv(EnvSessionDB, filepath.Join(t.TempDir(), "s.db"))

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
