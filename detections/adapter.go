package detections

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Tutortoise/object-detection-service/models"
)

const MsgInferenceFailed = "Inference failed"

// Backend runs the detection model. Implementations must be safe for
// concurrent use.
type Backend interface {
	Infer(ctx context.Context, img image.Image, conf float32, timings *models.ProcessingTimings) ([]Box, error)
	ClassNames() []string
}

// Result is what a single detection pass produced. Annotated is nil when
// nothing was detected.
type Result struct {
	Detections []models.Detection
	Annotated  *image.RGBA
}

// Adapter turns raw backend boxes into labelled detections and an annotated
// preview.
type Adapter struct {
	backend   Backend
	annotator *Annotator
	logger    *zap.Logger
}

func NewAdapter(backend Backend, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		backend:   backend,
		annotator: NewAnnotator(),
		logger:    logger,
	}
}

// Detect runs the backend at ConfThreshold. Backend errors and panics come
// back as inference failures.
func (a *Adapter) Detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) (result *Result, err error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("detection backend panicked",
				zap.String("request_id", timings.RequestID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			result = nil
			err = models.NewInferenceFailure(MsgInferenceFailed, fmt.Errorf("panic: %v", r))
		}
	}()

	boxes, err := a.backend.Infer(ctx, img, ConfThreshold, timings)
	if err != nil {
		return nil, models.NewInferenceFailure(MsgInferenceFailed, err)
	}

	names := a.backend.ClassNames()
	dets := make([]models.Detection, 0, len(boxes))
	for _, box := range boxes {
		dets = append(dets, models.Detection{
			Label:      labelFor(names, box.ClassIndex),
			Confidence: float64(box.Score),
			BBox: [4]int{
				int(box.Rect[0]),
				int(box.Rect[1]),
				int(box.Rect[2]),
				int(box.Rect[3]),
			},
		})
	}

	result = &Result{Detections: dets}
	if len(dets) > 0 {
		annotateStart := time.Now()
		result.Annotated = a.annotator.Annotate(img, boxes, dets)
		timings.Annotate = time.Since(annotateStart)
	}
	return result, nil
}

func labelFor(names []string, classIndex int) string {
	if classIndex >= 0 && classIndex < len(names) && names[classIndex] != "" {
		return names[classIndex]
	}
	return "class_" + strconv.Itoa(classIndex)
}
