// Package secrets resolves credentials from files (Docker and Kubernetes
// secret mounts) or from values with ${VAR} references. Secret values are
// never logged.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pneumai/pneumai-go/internal/logger"
)

// maxFileSize bounds secret file reads. Secrets are tokens and passwords.
const maxFileSize = 64 * 1024

// ExpandString replaces ${VAR} and ${VAR:-fallback} references with
// environment values. A reference without a fallback to an unset or empty
// variable is an error naming every missing variable.
func ExpandString(s string) (string, error) {
	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// ReadFile returns the secret stored at path with trailing newlines removed.
// Files readable by group or others are accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("secret file path is empty")
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	switch {
	case os.IsNotExist(err):
		return "", fmt.Errorf("secret file not found: %s", clean)
	case err != nil:
		return "", fmt.Errorf("failed to stat secret file %s: %w", clean, err)
	case !info.Mode().IsRegular():
		return "", fmt.Errorf("secret path is not a regular file: %s", clean)
	case info.Size() > maxFileSize:
		return "", fmt.Errorf("secret file too large (max %d bytes): %s", maxFileSize, clean)
	}

	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module("secrets").Warn("secret file is readable by group or others",
			logger.String("path", clean),
			logger.String("mode", fmt.Sprintf("%04o", perm)))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", clean, err)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret file is empty: %s", clean)
	}
	return secret, nil
}

// Resolve returns the secret from filePath when set, otherwise value with
// environment references expanded. Both empty yields an empty secret.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		secret, err := ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from file: %w", err)
		}
		return secret, nil
	}
	if value == "" {
		return "", nil
	}
	return ExpandString(value)
}
