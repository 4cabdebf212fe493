package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/logger"
)

// Config configures the TensorFlow Lite YOLO engine.
type Config struct {
	ModelPath           string
	Version             string // reported model version, derived from the file name when empty
	InputSize           int
	ConfidenceThreshold float64
	IoUThreshold        float64
	Threads             int // 0 selects the CPU count
	UseXNNPACK          bool
	Labels              []string
}

// YOLO runs a YOLOv8-style detection head exported to TensorFlow Lite.
type YOLO struct {
	cfg         Config
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	chw         bool // input tensor is [1,3,H,W] rather than [1,H,W,3]

	// the interpreter is not safe for concurrent use
	mu     sync.Mutex
	closed bool
}

// NewYOLO loads the model file and allocates the interpreter.
func NewYOLO(cfg Config) (*YOLO, error) {
	start := time.Now()
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = slices.Clone(DefaultLabels)
	}
	if cfg.Version == "" {
		cfg.Version = strings.TrimSuffix(filepath.Base(cfg.ModelPath), filepath.Ext(cfg.ModelPath))
	}

	modelData, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("read model file: %w", err)).
			Component("detector").
			Category(errors.CategoryModelLoad).
			Context("model_path", cfg.ModelPath).
			Timing("model-load", time.Since(start)).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Component("detector").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Context("model_size_mb", len(modelData)/1024/1024).
			Build()
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	log := GetLogger()
	options := tflite.NewInterpreterOptions()
	if cfg.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: bounded by CPU count
		if delegate == nil {
			log.Warn("failed to create XNNPACK delegate, falling back to default CPU")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.Newf("cannot create interpreter").
			Component("detector").
			Category(errors.CategoryModelInit).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Component("detector").
			Category(errors.CategoryModelInit).
			Build()
	}

	y := &YOLO{cfg: cfg, model: model, options: options, interpreter: interpreter}
	if err := y.checkInput(); err != nil {
		y.Close()
		return nil, err
	}

	log.Info("detection model initialized",
		logger.String("model", cfg.Version),
		logger.Int("input_size", cfg.InputSize),
		logger.Int("threads", threads),
		logger.Bool("xnnpack", cfg.UseXNNPACK),
		logger.Int("classes", len(cfg.Labels)),
		logger.Duration("elapsed", time.Since(start)))

	return y, nil
}

func (y *YOLO) checkInput() error {
	in := y.interpreter.GetInputTensor(0)
	if in == nil || in.NumDims() != 4 {
		return errors.Newf("model input must be a rank 4 tensor").
			Component("detector").
			Category(errors.CategoryModelInit).
			Build()
	}
	if in.Dim(1) == 3 {
		y.chw = true
		y.cfg.InputSize = in.Dim(2)
	} else {
		y.cfg.InputSize = in.Dim(1)
	}
	if in.Float32s() == nil {
		return errors.Newf("model input must be float32").
			Component("detector").
			Category(errors.CategoryModelInit).
			Build()
	}
	return nil
}

// Ready reports whether the interpreter is loaded.
func (y *YOLO) Ready() bool {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.interpreter != nil && !y.closed
}

// ModelVersion returns the configured model version.
func (y *YOLO) ModelVersion() string {
	return y.cfg.Version
}

// Detect runs inference on img. The context is checked before and after
// acquiring the interpreter; a running invocation is not interruptible.
func (y *YOLO) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	lb := newLetterbox(b.Dx(), b.Dy(), y.cfg.InputSize)
	canvas := lb.render(img)

	y.mu.Lock()
	defer y.mu.Unlock()

	if y.closed {
		return nil, inferenceError(fmt.Errorf("interpreter closed"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := y.interpreter.GetInputTensor(0)
	if input == nil {
		return nil, inferenceError(fmt.Errorf("cannot get input tensor"))
	}
	if y.chw {
		lb.tensorCHW(canvas, input.Float32s())
	} else {
		lb.tensor(canvas, input.Float32s())
	}

	if status := y.interpreter.Invoke(); status != tflite.OK {
		return nil, inferenceError(fmt.Errorf("tensor invoke failed: %v", status))
	}

	output := y.interpreter.GetOutputTensor(0)
	if output == nil || output.NumDims() != 3 {
		return nil, inferenceError(fmt.Errorf("unexpected output tensor shape"))
	}
	layout := layoutFromDims(output.Dim(1), output.Dim(2))
	cands := decodeCandidates(output.Float32s(), layout, y.cfg.ConfidenceThreshold, y.cfg.InputSize)
	cands = nms(cands, y.cfg.IoUThreshold)

	return toDetections(cands, lb, y.cfg.Labels), nil
}

// Close releases the interpreter, options and model.
func (y *YOLO) Close() {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.closed {
		return
	}
	y.closed = true
	if y.interpreter != nil {
		y.interpreter.Delete()
	}
	if y.options != nil {
		y.options.Delete()
	}
	if y.model != nil {
		y.model.Delete()
	}
}

func inferenceError(err error) error {
	return errors.New(err).
		Component("detector").
		Category(errors.CategoryInference).
		Build()
}
