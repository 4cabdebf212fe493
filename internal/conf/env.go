// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/pneumai/pneumai-go/internal/logger"
)

// EnvPrefix is the prefix for automatic environment overrides, e.g. PNEUMAI_EVENTS_WORKERS.
const EnvPrefix = "PNEUMAI"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the deployment-facing variable names with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"database.url", "DATABASE_URL", validateEnvDatabaseURL},
		{"database.urlfile", "DATABASE_URL_FILE", nil},
		{"ingest.maxuploadsizemb", "MAX_UPLOAD_SIZE_MB", validateEnvPositiveInt},
		{"ingest.workers", "WORKERS", validateEnvPositiveInt},
		{"ingest.maxpixels", "MAX_IMAGE_PIXELS", validateEnvPositiveInt},
		{"model.path", "MODEL_PATH", nil},
		{"model.confidencethreshold", "YOLO_CONFIDENCE_THRESHOLD", validateEnvUnitInterval},
		{"model.iouthreshold", "YOLO_IOU_THRESHOLD", validateEnvUnitInterval},
		{"server.host", "HOST", nil},
		{"server.port", "PORT", validateEnvPort},
		{"server.allowedorigins", "ALLOWED_ORIGINS", nil},
		{"logging.level", "LOG_LEVEL", validateEnvLogLevel},
		{"auth.jwtsecret", "JWT_SECRET", nil},
		{"auth.jwtsecretfile", "JWT_SECRET_FILE", nil},
		{"sentry.dsn", "SENTRY_DSN", nil},
		{"sentry.dsnfile", "SENTRY_DSN_FILE", nil},
		{"mqtt.passwordfile", "MQTT_PASSWORD_FILE", nil},
		{"mqtt.broker", "MQTT_BROKER", nil},
		{"mqtt.enabled", "MQTT_ENABLED", validateEnvBool},
	}
}

// bindEnvVars binds the named variables plus PNEUMAI_* automatic overrides,
// collecting every invalid value into one error.
func bindEnvVars() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var warnings []string
	for _, binding := range getEnvBindings() {
		// Keep the automatic PNEUMAI_* name working alongside the short name
		autoName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(binding.ConfigKey, ".", "_"))
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar, autoName); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue, ok := os.LookupEnv(binding.EnvVar); ok {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("not an integer: %w", err)
	}
	if n < 1 {
		return fmt.Errorf("must be at least 1, got %d", n)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("not an integer: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvUnitInterval(value string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("not a number: %w", err)
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1, got %g", f)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	if !logger.ValidLevel(strings.ToLower(strings.TrimSpace(value))) {
		return fmt.Errorf("must be one of trace, debug, info, warn, error")
	}
	return nil
}

func validateEnvDatabaseURL(value string) error {
	return validateDatabaseURL(value)
}

// validateDatabaseURL accepts the schemes the datastore can open.
func validateDatabaseURL(value string) error {
	scheme, rest, found := strings.Cut(value, "://")
	if !found {
		if strings.HasPrefix(value, "file:") {
			return nil
		}
		return fmt.Errorf("missing scheme, expected sqlite://, mysql:// or postgres://")
	}
	switch scheme {
	case "sqlite", "sqlite3":
		if rest == "" {
			return fmt.Errorf("sqlite URL needs a path")
		}
		return nil
	case "mysql", "postgres", "postgresql":
		u, err := url.Parse(value)
		if err != nil {
			return fmt.Errorf("unparsable URL: %w", err)
		}
		if u.Host == "" {
			return fmt.Errorf("%s URL needs a host", scheme)
		}
		return nil
	default:
		return fmt.Errorf("unsupported scheme %q", scheme)
	}
}
