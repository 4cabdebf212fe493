package api

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/logger"
)

func TestErrorCorrelationMatchesRequestScope(t *testing.T) {
	f := newFixture(t)

	var seen string
	f.ctrl.Group.GET("/correlated", func(ctx echo.Context) error {
		seen, _ = logger.CorrelationFromContext(ctx.Request().Context())
		return f.ctrl.HandleError(ctx, errors.ValidationError("rejected"))
	})

	rec := f.do(t, http.MethodGet, "/api/v2/correlated", doctorToken, nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, decodeError(t, rec).CorrelationID, "the body returns the ID the request logged under")
}

func TestStatusForLimitIsEntityTooLarge(t *testing.T) {
	err := errors.New(errors.NewStd("too many pixels")).Category(errors.CategoryLimit).Build()
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusForError(err))
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, http.StatusBadRequest, StatusForError(errors.ValidationError("bad")))
}
