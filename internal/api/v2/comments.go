package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pneumai/pneumai-go/internal/comments"
	"github.com/pneumai/pneumai-go/internal/errors"
)

// CommentRequest is the body of comment create and edit calls.
type CommentRequest struct {
	Text     string `json:"text"`
	ParentID *uint  `json:"parentId,omitempty"`
}

// CommentList is the threaded comment listing of a scan.
type CommentList struct {
	Threads []comments.Thread `json:"threads"`
	Total   int               `json:"total"`
}

// AddComment handles POST /scans/:scanId/comments.
func (c *Controller) AddComment(ctx echo.Context) error {
	var body CommentRequest
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, errors.ValidationError("invalid comment body"))
	}
	comment, err := c.comments.Add(ctx.Request().Context(), ctx.Param("scanId"), caller(ctx), body.Text, body.ParentID)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, comment)
}

// ListComments handles GET /scans/:scanId/comments.
func (c *Controller) ListComments(ctx echo.Context) error {
	threads, err := c.comments.List(ctx.Request().Context(), ctx.Param("scanId"), caller(ctx))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	if threads == nil {
		threads = []comments.Thread{}
	}
	total := 0
	for _, t := range threads {
		total += 1 + len(t.Replies)
	}
	return ctx.JSON(http.StatusOK, CommentList{Threads: threads, Total: total})
}

// EditComment handles PUT /comments/:commentId.
func (c *Controller) EditComment(ctx echo.Context) error {
	id, err := commentID(ctx)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	var body CommentRequest
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, errors.ValidationError("invalid comment body"))
	}
	comment, err := c.comments.Edit(ctx.Request().Context(), id, caller(ctx), body.Text)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, comment)
}

// DeleteComment handles DELETE /comments/:commentId. Direct replies go with it.
func (c *Controller) DeleteComment(ctx echo.Context) error {
	id, err := commentID(ctx)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	removed, err := c.comments.Delete(ctx.Request().Context(), id, caller(ctx))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"deleted": removed})
}

func commentID(ctx echo.Context) (uint, error) {
	n, err := strconv.ParseUint(ctx.Param("commentId"), 10, 64)
	if err != nil || n == 0 {
		return 0, errors.ValidationError("commentId must be a positive integer")
	}
	return uint(n), nil
}
