// conf/validate.go settings validation
package conf

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pneumai/pneumai-go/internal/logger"
)

// ValidationError collects every problem found in a settings struct.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings checks the loaded settings and normalizes a few fields in place.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateServerSettings(&settings.Server); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateDatabaseURL(settings.Database.URL); err != nil {
		ve.Errors = append(ve.Errors, fmt.Sprintf("database.url: %v", err))
	}
	ve.Errors = append(ve.Errors, validateModelSettings(&settings.Model)...)
	ve.Errors = append(ve.Errors, validateIngestSettings(&settings.Ingest)...)
	ve.Errors = append(ve.Errors, validateEventSettings(&settings.Events)...)

	switch settings.Scans.Visibility {
	case "all", "assigned":
	case "":
		settings.Scans.Visibility = "all"
	default:
		ve.Errors = append(ve.Errors, fmt.Sprintf("scans.visibility must be all or assigned, got %q", settings.Scans.Visibility))
	}

	if settings.MQTT.Enabled {
		if settings.MQTT.Broker == "" {
			ve.Errors = append(ve.Errors, "mqtt.broker is required when mqtt is enabled")
		}
		if settings.MQTT.QoS < 0 || settings.MQTT.QoS > 2 {
			ve.Errors = append(ve.Errors, fmt.Sprintf("mqtt.qos must be 0, 1 or 2, got %d", settings.MQTT.QoS))
		}
	}

	settings.Logging.Level = strings.ToLower(settings.Logging.Level)
	if !logger.ValidLevel(settings.Logging.Level) {
		ve.Errors = append(ve.Errors, fmt.Sprintf("logging.level %q is not a known level", settings.Logging.Level))
	}
	if settings.Logging.Format != "text" && settings.Logging.Format != "json" {
		ve.Errors = append(ve.Errors, fmt.Sprintf("logging.format must be text or json, got %q", settings.Logging.Format))
	}

	if settings.Auth.JWTSecret == "" {
		GetLogger().Warn("auth.jwtsecret is empty, authenticated endpoints will reject every request")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateServerSettings(s *ServerSettings) error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Port)
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.MaxConnections < 0 {
		return fmt.Errorf("server.maxconnections must not be negative, got %d", s.MaxConnections)
	}
	if s.RateLimit.Enabled && s.RateLimit.UploadsPerMinute < 1 {
		return fmt.Errorf("server.ratelimit.uploadsperminute must be positive when rate limiting is enabled")
	}
	return nil
}

func validateModelSettings(m *ModelSettings) []string {
	var errs []string
	if m.Path == "" {
		errs = append(errs, "model.path must be set, use \"none\" for the static detector")
	}
	if m.InputSize < 32 || m.InputSize%32 != 0 {
		errs = append(errs, fmt.Sprintf("model.inputsize must be a positive multiple of 32, got %d", m.InputSize))
	}
	if m.ConfidenceThreshold < 0 || m.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("model.confidencethreshold must be within [0,1], got %g", m.ConfidenceThreshold))
	}
	if m.IoUThreshold < 0 || m.IoUThreshold > 1 {
		errs = append(errs, fmt.Sprintf("model.iouthreshold must be within [0,1], got %g", m.IoUThreshold))
	}
	if len(m.Labels) == 0 {
		m.Labels = slices.Clone(DefaultLabels)
	}
	if m.Threads < 0 {
		m.Threads = 0
	}
	return errs
}

func validateIngestSettings(i *IngestSettings) []string {
	var errs []string
	if i.MaxUploadSizeMB < 1 {
		errs = append(errs, fmt.Sprintf("ingest.maxuploadsizemb must be at least 1, got %d", i.MaxUploadSizeMB))
	}
	if i.MaxPixels < 1 {
		errs = append(errs, fmt.Sprintf("ingest.maxpixels must be at least 1, got %d", i.MaxPixels))
	}
	if i.Workers < 1 {
		errs = append(errs, fmt.Sprintf("ingest.workers must be at least 1, got %d", i.Workers))
	}
	if i.InferenceTimeout <= 0 {
		errs = append(errs, "ingest.inferencetimeout must be positive")
	}
	if len(i.AllowedTypes) == 0 {
		errs = append(errs, "ingest.allowedtypes must list at least one media type")
	}
	switch i.Digest {
	case "sha256", "blake2b":
	default:
		errs = append(errs, fmt.Sprintf("ingest.digest must be sha256 or blake2b, got %q", i.Digest))
	}
	return errs
}

func validateEventSettings(e *EventSettings) []string {
	var errs []string
	if e.BufferSize < 1 {
		errs = append(errs, "events.buffersize must be positive")
	}
	if e.Workers < 1 {
		errs = append(errs, "events.workers must be positive")
	}
	if e.SubscriberBuffer < 1 {
		e.SubscriberBuffer = 64
	}
	if e.SendTimeout <= 0 {
		e.SendTimeout = 3 * time.Second
	}
	return errs
}
