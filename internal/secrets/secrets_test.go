package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandString(t *testing.T) {
	t.Setenv("PNEUMAI_TEST_USER", "admin")
	t.Setenv("PNEUMAI_TEST_PASS", "s3cret")
	t.Setenv("PNEUMAI_TEST_EMPTY", "")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{name: "empty", input: "", want: ""},
		{name: "literal", input: "plain-value", want: "plain-value"},
		{name: "single variable", input: "${PNEUMAI_TEST_USER}", want: "admin"},
		{name: "embedded variables", input: "${PNEUMAI_TEST_USER}:${PNEUMAI_TEST_PASS}@broker", want: "admin:s3cret@broker"},
		{name: "fallback unused", input: "${PNEUMAI_TEST_USER:-guest}", want: "admin"},
		{name: "fallback used for unset", input: "${PNEUMAI_TEST_NOPE:-guest}", want: "guest"},
		{name: "fallback used for empty", input: "${PNEUMAI_TEST_EMPTY:-guest}", want: "guest"},
		{name: "empty fallback", input: "x${PNEUMAI_TEST_NOPE:-}y", want: "xy"},
		{name: "missing", input: "${PNEUMAI_TEST_NOPE}", wantErr: "PNEUMAI_TEST_NOPE"},
		{name: "all missing reported", input: "${PNEUMAI_TEST_A}${PNEUMAI_TEST_B}", wantErr: "PNEUMAI_TEST_A, PNEUMAI_TEST_B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandString(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string, perm os.FileMode) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), perm))
		return path
	}

	t.Run("trims trailing newlines only", func(t *testing.T) {
		got, err := ReadFile(write("token", "  abc \r\n\n", 0o600))
		require.NoError(t, err)
		assert.Equal(t, "  abc ", got)
	})

	t.Run("accepts loose permissions", func(t *testing.T) {
		got, err := ReadFile(write("loose", "abc", 0o644))
		require.NoError(t, err)
		assert.Equal(t, "abc", got)
	})

	failures := map[string]struct {
		path    string
		wantErr string
	}{
		"empty path": {"", "path is empty"},
		"missing":    {filepath.Join(dir, "absent"), "not found"},
		"directory":  {dir, "not a regular file"},
		"empty file": {write("blank", "\n", 0o600), "is empty"},
		"too large":  {write("big", strings.Repeat("x", maxFileSize+1), 0o600), "too large"},
	}
	for name, tc := range failures {
		t.Run(name, func(t *testing.T) {
			_, err := ReadFile(tc.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	t.Setenv("PNEUMAI_TEST_TOKEN", "from-env")

	got, err := Resolve(path, "${PNEUMAI_TEST_TOKEN}")
	require.NoError(t, err)
	assert.Equal(t, "from-file", got, "file takes precedence")

	got, err = Resolve("", "${PNEUMAI_TEST_TOKEN}")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	got, err = Resolve("", "")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Resolve(filepath.Join(dir, "absent"), "fallback")
	require.Error(t, err)
}
