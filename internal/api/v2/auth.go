package api

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/errors"
)

// AuthMiddleware resolves the bearer token to an identity and stores it in the
// request context. allowQuery also accepts ?access_token= for clients that
// cannot set headers.
func (c *Controller) AuthMiddleware(allowQuery bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token, err := bearerToken(ctx.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return c.HandleError(ctx, err)
			}
			if token == "" && allowQuery {
				token = ctx.QueryParam("access_token")
			}
			if token == "" {
				return c.HandleError(ctx, errors.Unauthorized(auth.ErrMissingToken.Error()))
			}

			req := ctx.Request()
			id, err := c.sessions.Lookup(req.Context(), token)
			if err != nil {
				return c.HandleError(ctx, errors.New(err).
					Component("api").
					Category(errors.CategoryAuth).
					Build())
			}

			ctx.SetRequest(req.WithContext(auth.WithIdentity(req.Context(), id)))
			return next(ctx)
		}
	}
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.Unauthorized("invalid Authorization header format, use 'Bearer {token}'")
	}
	return strings.TrimSpace(token), nil
}

// caller returns the authenticated identity. Routes behind AuthMiddleware always have one.
func caller(ctx echo.Context) auth.Identity {
	id, _ := auth.FromContext(ctx.Request().Context())
	return id
}
