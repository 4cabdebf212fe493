package analysis

import "github.com/pneumai/pneumai-go/internal/errors"

// ErrAnalysisCanceled is returned when a directory run is interrupted before every file was scored.
var ErrAnalysisCanceled = errors.NewStd("analysis canceled")

// ErrNoImages is returned when a directory holds no supported image files.
var ErrNoImages = errors.NewStd("no image files found")
