package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Tutortoise/object-detection-service/logging"
	"github.com/Tutortoise/object-detection-service/models"
)

var errSessionPanicked = errors.New("session abandoned by a panic during inference")

// ModelConfig configures the ONNX backend.
type ModelConfig struct {
	ModelPath      string
	LabelsPath     string
	PoolSize       int
	IntraOpThreads int
	IoUThreshold   float32
	AcquireTimeout time.Duration
}

// ONNXBackend runs a YOLO detection model exported to ONNX. The output tensor
// is laid out as [1, 4+classes, anchors] with centre-xywh boxes in model pixels.
type ONNXBackend struct {
	pool         *SessionPool
	classNames   []string
	inputWidth   int
	inputHeight  int
	numChannels  int
	numAnchors   int
	iouThreshold float32
	logger       *zap.Logger
}

// modelLayout is the tensor geometry read from the model file.
type modelLayout struct {
	inputName   string
	outputName  string
	inputWidth  int
	inputHeight int
	numChannels int
	numAnchors  int
}

// NewONNXBackend loads the class table, builds the session pool and returns a
// ready backend. The ONNX Runtime environment must already be initialized.
func NewONNXBackend(cfg ModelConfig, logger *zap.Logger) (*ONNXBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	names, err := loadClassNames(cfg)
	switch {
	case err != nil && cfg.LabelsPath != "":
		return nil, logging.NewOperationError("detections.load_labels", "", err)
	case err != nil:
		// Exports without a class table still work; labels fall back to class_<n>.
		logger.Warn("model carries no class names", zap.Error(err))
	}

	layout, err := readModelLayout(cfg.ModelPath, len(names))
	if err != nil {
		return nil, logging.NewOperationError("detections.read_model", "", err)
	}

	params := sessionParams{
		modelPath:      cfg.ModelPath,
		inputName:      layout.inputName,
		outputName:     layout.outputName,
		inputShape:     ort.NewShape(1, 3, int64(layout.inputHeight), int64(layout.inputWidth)),
		outputShape:    ort.NewShape(1, int64(layout.numChannels), int64(layout.numAnchors)),
		intraOpThreads: cfg.IntraOpThreads,
	}
	factory := func() (*ModelSession, error) {
		return newSession(params)
	}

	pool, err := newSessionPool(factory, cfg.PoolSize, cfg.AcquireTimeout, logger)
	if err != nil {
		return nil, logging.NewOperationError("detections.create_pool", "", err)
	}

	backend := newBackend(pool, names, layout, cfg.IoUThreshold, logger)
	logger.Info("detection model loaded",
		zap.String("model_path", cfg.ModelPath),
		zap.Int("classes", len(names)),
		zap.Int("input_width", layout.inputWidth),
		zap.Int("input_height", layout.inputHeight),
		zap.Int("anchors", layout.numAnchors),
		zap.Int("pool_size", pool.Size()),
	)
	return backend, nil
}

func newBackend(pool *SessionPool, names []string, layout modelLayout, iouThreshold float32, logger *zap.Logger) *ONNXBackend {
	if iouThreshold <= 0 {
		iouThreshold = DefaultIoUThreshold
	}
	return &ONNXBackend{
		pool:         pool,
		classNames:   names,
		inputWidth:   layout.inputWidth,
		inputHeight:  layout.inputHeight,
		numChannels:  layout.numChannels,
		numAnchors:   layout.numAnchors,
		iouThreshold: iouThreshold,
		logger:       logger,
	}
}

func loadClassNames(cfg ModelConfig) ([]string, error) {
	if cfg.LabelsPath != "" {
		return LoadNamesFile(cfg.LabelsPath)
	}
	return loadModelNames(cfg.ModelPath)
}

func readModelLayout(modelPath string, numClasses int) (modelLayout, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return modelLayout{}, err
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return modelLayout{}, fmt.Errorf("expected one input and at least one output, got %d and %d", len(inputs), len(outputs))
	}
	return layoutFromShapes(inputs[0].Name, inputs[0].Dimensions, outputs[0].Name, outputs[0].Dimensions, numClasses)
}

// layoutFromShapes resolves dynamic (-1) dimensions. A dynamic input falls back
// to DefaultInputSize, a dynamic output is derived from the class count and
// the anchor grid of the three detection strides.
func layoutFromShapes(inputName string, in ort.Shape, outputName string, out ort.Shape, numClasses int) (modelLayout, error) {
	if len(in) != 4 {
		return modelLayout{}, fmt.Errorf("input %q: expected 4 dimensions, got %v", inputName, in)
	}
	if in[1] > 0 && in[1] != 3 {
		return modelLayout{}, fmt.Errorf("input %q: expected 3 channels, got %d", inputName, in[1])
	}
	if len(out) != 3 {
		return modelLayout{}, fmt.Errorf("output %q: expected 3 dimensions, got %v", outputName, out)
	}

	layout := modelLayout{
		inputName:   inputName,
		outputName:  outputName,
		inputHeight: dimOr(in[2], DefaultInputSize),
		inputWidth:  dimOr(in[3], DefaultInputSize),
	}

	layout.numChannels = dimOr(out[1], 4+numClasses)
	if layout.numChannels <= 4 {
		return modelLayout{}, fmt.Errorf("output %q: no class channels in %v", outputName, out)
	}

	anchors := 0
	for stride := minStride; stride <= 4*minStride; stride *= 2 {
		anchors += (layout.inputWidth / stride) * (layout.inputHeight / stride)
	}
	layout.numAnchors = dimOr(out[2], anchors)

	return layout, nil
}

func dimOr(dim int64, fallback int) int {
	if dim <= 0 {
		return fallback
	}
	return int(dim)
}

func (b *ONNXBackend) ClassNames() []string {
	return b.classNames
}

func (b *ONNXBackend) PoolMetrics() PoolMetrics {
	return b.pool.Metrics()
}

func (b *ONNXBackend) Close() {
	b.pool.Destroy()
}

// Infer runs the model on img and returns the boxes scoring at least conf
// after class-aware non-maximum suppression.
func (b *ONNXBackend) Infer(ctx context.Context, img image.Image, conf float32, timings *models.ProcessingTimings) ([]Box, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	session, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, logging.NewOperationError("detections.acquire_session", timings.RequestID, err)
	}
	settled := false
	defer func() {
		// Reached only when a panic unwinds past the session.
		if !settled {
			b.pool.Discard(session, errSessionPanicked)
		}
	}()

	bounds := img.Bounds()
	lb := newLetterbox(bounds.Dx(), bounds.Dy(), b.inputWidth, b.inputHeight)

	prepStart := time.Now()
	if err := fillInput(lb.apply(img, b.inputWidth, b.inputHeight), session.Input); err != nil {
		settled = true
		b.pool.Release(session)
		return nil, logging.NewOperationError("detections.prepare_input", timings.RequestID, err)
	}
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if err := session.Session.Run(); err != nil {
		settled = true
		b.pool.Discard(session, err)
		return nil, logging.NewOperationError("detections.run_session", timings.RequestID, err)
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	candidates, err := b.decodeOutput(session.Output, conf, lb)
	settled = true
	b.pool.Release(session)
	if err != nil {
		return nil, logging.NewOperationError("detections.decode_output", timings.RequestID, err)
	}
	boxes := nonMaxSuppression(candidates, b.iouThreshold, MaxDetections)
	timings.Postprocess = time.Since(postStart)

	return boxes, nil
}

// fillInput writes pic into dst as planar RGB scaled to [0, 1].
func fillInput(pic *image.NRGBA, dst []float32) error {
	width, height := pic.Bounds().Dx(), pic.Bounds().Dy()
	channelSize := width * height
	if len(dst) != channelSize*3 {
		return fmt.Errorf("input buffer holds %d values, image needs %d", len(dst), channelSize*3)
	}

	numWorkers := min(runtime.NumCPU(), height)
	rowsPerWorker := height / numWorkers
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := startY + rowsPerWorker
		if w == numWorkers-1 {
			endY = height
		}

		wg.Add(1)
		go func(startY, endY int) {
			defer wg.Done()
			for y := startY; y < endY; y++ {
				src := pic.Pix[y*pic.Stride : y*pic.Stride+width*4]
				offset := y * width
				for x := 0; x < width; x++ {
					i := offset + x
					dst[i] = float32(src[x*4]) / 255.0
					dst[channelSize+i] = float32(src[x*4+1]) / 255.0
					dst[channelSize*2+i] = float32(src[x*4+2]) / 255.0
				}
			}
		}(startY, endY)
	}

	wg.Wait()
	return nil
}

// decodeOutput turns the raw output tensor into candidate boxes in source
// pixels. Anchors are scanned in chunks across workers.
func (b *ONNXBackend) decodeOutput(predictions []float32, conf float32, lb letterbox) ([]Box, error) {
	numAnchors := b.numAnchors
	numClasses := b.numChannels - 4

	expectedSize := b.numChannels * numAnchors
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	padX, padY := float32(lb.padX), float32(lb.padY)
	maxX, maxY := float32(lb.srcWidth), float32(lb.srcHeight)

	const chunkSize = 512
	numWorkers := runtime.NumCPU()
	jobs := make(chan int, numWorkers)
	results := make(chan []Box, numWorkers)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]Box, 0, 16)

			for start := range jobs {
				end := min(start+chunkSize, numAnchors)
				for i := start; i < end; i++ {
					classIndex, score := 0, predictions[4*numAnchors+i]
					for c := 1; c < numClasses; c++ {
						if s := predictions[(4+c)*numAnchors+i]; s > score {
							classIndex, score = c, s
						}
					}
					if score < conf {
						continue
					}

					cx := predictions[i]
					cy := predictions[numAnchors+i]
					w := predictions[2*numAnchors+i]
					h := predictions[3*numAnchors+i]

					local = append(local, Box{
						ClassIndex: classIndex,
						Score:      score,
						Rect: [4]float32{
							clamp((cx-w/2-padX)/lb.scale, 0, maxX),
							clamp((cy-h/2-padY)/lb.scale, 0, maxY),
							clamp((cx+w/2-padX)/lb.scale, 0, maxX),
							clamp((cy+h/2-padY)/lb.scale, 0, maxY),
						},
					})
				}
			}

			if len(local) > 0 {
				results <- local
			}
		}()
	}

	go func() {
		for i := 0; i < numAnchors; i += chunkSize {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	boxes := make([]Box, 0, 64)
	for chunk := range results {
		boxes = append(boxes, chunk...)
	}
	return boxes, nil
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
