package conf

import (
	"fmt"

	"github.com/pneumai/pneumai-go/internal/secrets"
)

// resolveSecrets replaces each credential with the content of its *file
// sibling when one is set, and expands ${VAR} references otherwise. The
// database URL is read from its file verbatim because DSN passwords may
// contain '$'.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		name  string
		file  string
		value *string
	}{
		{"auth.jwtsecret", s.Auth.JWTSecretFile, &s.Auth.JWTSecret},
		{"mqtt.password", s.MQTT.PasswordFile, &s.MQTT.Password},
		{"sentry.dsn", s.Sentry.DSNFile, &s.Sentry.DSN},
	}
	for _, f := range fields {
		resolved, err := secrets.Resolve(f.file, *f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = resolved
	}

	if s.Database.URLFile != "" {
		url, err := secrets.ReadFile(s.Database.URLFile)
		if err != nil {
			return fmt.Errorf("database.url: %w", err)
		}
		s.Database.URL = url
	}
	return nil
}
