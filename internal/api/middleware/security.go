// Package middleware provides the echo middleware shared by the HTTP server.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// hstsMaxAge is one year in seconds.
const hstsMaxAge = 31536000

// apiOnlyCSP forbids every subresource; the server returns JSON and images only.
const apiOnlyCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityConfig holds the browser-facing policy of the API.
type SecurityConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
	HSTSMaxAge       int
}

// NewSecurityConfig allows the given origins. An empty list allows any origin
// without credentials.
func NewSecurityConfig(origins []string) SecurityConfig {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return SecurityConfig{
		AllowedOrigins: origins,
		// Credentialed CORS is only valid with explicit origins
		AllowCredentials: !(len(origins) == 1 && origins[0] == "*"),
		HSTSMaxAge:       hstsMaxAge,
	}
}

// NewCORS allows the scan, comment and stream endpoints from the configured origins.
func NewCORS(config SecurityConfig) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: config.AllowedOrigins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPut,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"Last-Event-ID",
		},
		ExposeHeaders:    []string{echo.HeaderContentDisposition},
		AllowCredentials: config.AllowCredentials,
	})
}

// NewSecureHeaders sets the response hardening headers.
func NewSecureHeaders(config SecurityConfig) echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            config.HSTSMaxAge,
		ContentSecurityPolicy: apiOnlyCSP,
		ReferrerPolicy:        "no-referrer",
	})
}

// NoStore marks every API response as uncacheable. Scan records, images and
// comments are patient data and must not land in shared caches.
func NoStore(prefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Request().URL.Path, prefix) {
				h := c.Response().Header()
				h.Set(echo.HeaderCacheControl, "no-store")
				h.Set("Pragma", "no-cache")
			}
			return next(c)
		}
	}
}

// NewBodyLimit rejects request bodies above limit, e.g. "51M".
func NewBodyLimit(limit string) echo.MiddlewareFunc {
	return middleware.BodyLimit(limit)
}
