package detections

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Tutortoise/object-detection-service/models"
)

type stubBackend struct {
	boxes    []Box
	err      error
	panicMsg string
	names    []string
	gotConf  float32
}

func (s *stubBackend) Infer(_ context.Context, _ image.Image, conf float32, _ *models.ProcessingTimings) ([]Box, error) {
	s.gotConf = conf
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.boxes, s.err
}

func (s *stubBackend) ClassNames() []string {
	return s.names
}

func solidImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 10, 20, 30, 255
	}
	return img
}

func TestAdapterMapsBoxesToDetections(t *testing.T) {
	backend := &stubBackend{
		names: []string{"helmet", "vest"},
		boxes: []Box{
			{ClassIndex: 1, Score: 0.875, Rect: [4]float32{10.9, 20.2, 30.99, 40.5}},
			{ClassIndex: 7, Score: 0.6, Rect: [4]float32{0, 0, 5, 5}},
		},
	}
	adapter := NewAdapter(backend, zap.NewNop())

	timings := &models.ProcessingTimings{}
	result, err := adapter.Detect(context.Background(), solidImage(64, 64), timings)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if backend.gotConf != ConfThreshold {
		t.Errorf("backend called with conf %v, want %v", backend.gotConf, ConfThreshold)
	}
	if len(result.Detections) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(result.Detections))
	}

	first := result.Detections[0]
	if first.Label != "vest" || first.BBox != [4]int{10, 20, 30, 40} || first.Confidence != 0.875 {
		t.Errorf("unexpected first detection %+v", first)
	}
	if result.Detections[1].Label != "class_7" {
		t.Errorf("expected fallback label, got %q", result.Detections[1].Label)
	}
	if result.Annotated == nil {
		t.Fatal("expected annotated image")
	}
	if result.Annotated.Bounds().Dx() != 64 || result.Annotated.Bounds().Dy() != 64 {
		t.Errorf("annotated image has bounds %v", result.Annotated.Bounds())
	}
	if timings.Annotate <= 0 {
		t.Error("expected annotate timing to be recorded")
	}
}

func TestAdapterNoDetections(t *testing.T) {
	adapter := NewAdapter(&stubBackend{}, nil)

	result, err := adapter.Detect(context.Background(), solidImage(8, 8), nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if result.Detections == nil || len(result.Detections) != 0 {
		t.Fatalf("expected empty, non-nil detections, got %#v", result.Detections)
	}
	if result.Annotated != nil {
		t.Fatal("expected no annotated image")
	}
}

func TestAdapterBackendErrorIsInferenceFailure(t *testing.T) {
	adapter := NewAdapter(&stubBackend{err: errors.New("cuda out of memory")}, zap.NewNop())

	_, err := adapter.Detect(context.Background(), solidImage(8, 8), nil)
	if models.KindOf(err) != models.KindInferenceFailure {
		t.Fatalf("expected inference failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "cuda out of memory") {
		t.Fatalf("cause missing from message: %q", err.Error())
	}
}

func TestAdapterRecoversBackendPanic(t *testing.T) {
	adapter := NewAdapter(&stubBackend{panicMsg: "index out of range"}, zap.NewNop())

	result, err := adapter.Detect(context.Background(), solidImage(8, 8), nil)
	if result != nil {
		t.Fatalf("expected nil result, got %+v", result)
	}
	if models.KindOf(err) != models.KindInferenceFailure || !strings.Contains(err.Error(), "index out of range") {
		t.Fatalf("expected inference failure carrying the panic, got %v", err)
	}
}

func TestAdapterDoesNotModifySource(t *testing.T) {
	src := solidImage(32, 32)
	adapter := NewAdapter(&stubBackend{
		boxes: []Box{{ClassIndex: 0, Score: 0.9, Rect: [4]float32{4, 4, 20, 20}}},
	}, nil)

	if _, err := adapter.Detect(context.Background(), src, nil); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got := src.NRGBAAt(4, 4); got != (color.NRGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Fatalf("source image was drawn on: %v", got)
	}
}
