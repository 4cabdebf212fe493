package analysis

import (
	"context"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pneumai/pneumai-go/internal/conf"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/logger"
)

// imageExtensions lists the file suffixes picked up by a directory run.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp", ".dcm", ".dicom"}

// ReportFunc receives each result as soon as it is ready. Calls are serialized.
type ReportFunc func(FileResult)

// imageFiles returns the supported images under dir, sorted by path.
func imageFiles(dir string, recursive bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path))) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}
	slices.Sort(files)
	return files, nil
}

// Directory scores every image in dir with up to the configured number of
// files in flight. A file that fails is reported with Error set and does not
// stop the run. Results are ordered by path.
func (a *Analyzer) Directory(ctx context.Context, dir string, recursive bool, report ReportFunc) ([]FileResult, error) {
	files, err := imageFiles(dir, recursive)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoImages
	}

	log := GetLogger().With(logger.String("dir", dir))
	log.Info("analyzing directory", logger.Int("files", len(files)), logger.Int("workers", a.workers))

	results := make([]FileResult, len(files))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := a.File(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("file analysis failed", logger.String("path", path), logger.Error(err))
				res = &FileResult{Path: path, Error: err.Error()}
			}
			mu.Lock()
			results[i] = *res
			if report != nil {
				report(*res)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil || ctx.Err() != nil {
		return nil, ErrAnalysisCanceled
	}
	return results, nil
}

// DirectoryAnalysis scores every image in dir with the configured model.
func DirectoryAnalysis(ctx context.Context, settings *conf.Settings, dir string, recursive bool, report ReportFunc) ([]FileResult, error) {
	a, err := NewAnalyzer(settings)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.Directory(ctx, dir, recursive, report)
}
