// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// hasActiveReporting gates the telemetry path in Build so error construction
// stays cheap when no reporter is installed.
var hasActiveReporting atomic.Bool

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// InitSentry initializes the Sentry SDK and installs a SentryReporter as the
// global telemetry reporter. An empty DSN leaves telemetry disabled.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		SetTelemetryReporter(nil)
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: false,
		SendDefaultPII:   false,
	}); err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	SetTelemetryReporter(NewSentryReporter(true))
	return nil
}

// FlushSentry waits up to timeout for buffered telemetry events to be sent.
func FlushSentry(timeout time.Duration) {
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		sentry.Flush(timeout)
	}
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() || !isReportable(ee.Category) {
		return
	}

	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Error()))
	title := generateErrorTitle(ee)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_title", title)
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}

		for key, value := range ee.GetContext() {
			if strValue, ok := value.(string); ok {
				value = scrubMessageForPrivacy(strValue)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// isReportable filters out caller mistakes, which carry no operational signal.
func isReportable(category ErrorCategory) bool {
	switch category {
	case CategoryValidation, CategoryNotFound, CategoryForbidden, CategoryAuth, CategoryConflict,
		CategoryLimit, CategoryRateLimit, CategoryState, CategoryCancelled:
		return false
	default:
		return true
	}
}

// generateErrorTitle creates a grouping title from component, category and operation
func generateErrorTitle(ee *EnhancedError) string {
	var titleParts []string

	if component := ee.GetComponent(); component != "" && component != ComponentUnknown {
		titleParts = append(titleParts, titleCase(component))
	}
	if categoryTitle := formatCategoryForTitle(ee.Category); categoryTitle != "" {
		titleParts = append(titleParts, categoryTitle)
	}
	if operation, ok := ee.GetContext()["operation"].(string); ok && operation != "" {
		titleParts = append(titleParts, formatOperationForTitle(operation))
	}

	if len(titleParts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(titleParts, " ")
}

// formatCategoryForTitle converts error categories to human-readable titles
func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryImageDecode:
		return "Image Decode Error"
	case CategoryInference:
		return "Inference Error"
	case CategoryModelInit:
		return "Model Initialization Error"
	case CategoryModelLoad:
		return "Model Loading Error"
	case CategoryImageRender:
		return "Image Render Error"
	case CategoryDatabase:
		return "Database Error"
	case CategoryTimeout:
		return "Timeout"
	case CategoryMQTTConnection, CategoryMQTTPublish:
		return "MQTT Error"
	case CategoryConfiguration:
		return "Configuration Error"
	case CategorySystem:
		return "System Error"
	default:
		return string(category)
	}
}

// formatOperationForTitle converts operation context to human-readable format
func formatOperationForTitle(operation string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(operation))
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

// titleCase capitalizes the first letter of a string
func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns appropriate Sentry level based on category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryTimeout, CategoryMQTTConnection, CategoryMQTTPublish, CategoryBroadcast, CategoryImageDecode:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// Global telemetry reporter (nil when telemetry is disabled)
var globalTelemetryReporter atomic.Pointer[TelemetryReporter]

// SetTelemetryReporter sets the global telemetry reporter
func SetTelemetryReporter(reporter TelemetryReporter) {
	if reporter == nil {
		globalTelemetryReporter.Store(nil)
		hasActiveReporting.Store(false)
		return
	}
	globalTelemetryReporter.Store(&reporter)
	hasActiveReporting.Store(reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	if ptr := globalTelemetryReporter.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

// reportToTelemetry reports an error to the configured telemetry system
func reportToTelemetry(ee *EnhancedError) {
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

var (
	urlQueryRegex   = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	bearerRegex     = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.=]+`)
	secretKeyRegex  = regexp.MustCompile(`(?i)(token|password|secret|api[_-]?key)[=:]\S+`)
	patientIDsRegex = regexp.MustCompile(`(?i)(patient[_-]?id|user[_-]?id)[=:]\S+`)
	longHexRegex    = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
)

// scrubMessageForPrivacy removes credentials, identifiers and digests from messages sent off-host
func scrubMessageForPrivacy(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = bearerRegex.ReplaceAllString(scrubbed, "Bearer [REDACTED]")
	scrubbed = secretKeyRegex.ReplaceAllString(scrubbed, "$1=[REDACTED]")
	scrubbed = patientIDsRegex.ReplaceAllString(scrubbed, "$1=[ID_REDACTED]")
	return longHexRegex.ReplaceAllString(scrubbed, "[HEX_REDACTED]")
}
