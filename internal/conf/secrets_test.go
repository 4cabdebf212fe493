package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSecret(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadResolvesSecretFiles(t *testing.T) {
	dir := isolate(t)
	t.Setenv("JWT_SECRET", "ignored-when-file-set")
	t.Setenv("JWT_SECRET_FILE", writeSecret(t, dir, "jwt", "from-file\n"))
	t.Setenv("DATABASE_URL_FILE", writeSecret(t, dir, "db", "postgres://u:pa$$@db:5432/scans\n"))

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-file", settings.Auth.JWTSecret)
	assert.Equal(t, "postgres://u:pa$$@db:5432/scans", settings.Database.URL)
}

func TestLoadExpandsSecretReferences(t *testing.T) {
	isolate(t)
	t.Setenv("SENTRY_DSN", "https://${SENTRY_KEY}@sentry.example/1")
	t.Setenv("SENTRY_KEY", "abc")
	t.Setenv("JWT_SECRET", "${SIGNING_KEY:-dev-secret}")

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://abc@sentry.example/1", settings.Sentry.DSN)
	assert.Equal(t, "dev-secret", settings.Auth.JWTSecret)
}

func TestLoadFailsOnUnresolvableSecret(t *testing.T) {
	dir := isolate(t)

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("MQTT_PASSWORD_FILE", filepath.Join(dir, "absent"))
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mqtt.password")
	})

	t.Run("unset variable", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "${PNEUMAI_TEST_UNSET_KEY}")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PNEUMAI_TEST_UNSET_KEY")
	})
}
