package detections

import (
	"image"
	"image/color"
	"testing"

	"github.com/Tutortoise/object-detection-service/models"
)

func TestLineWidth(t *testing.T) {
	tests := []struct {
		w, h int
		want int
	}{
		{64, 64, 2},
		{640, 480, 2},
		{1920, 1080, 5},
		{4000, 3000, 11},
	}
	for _, tt := range tests {
		if got := LineWidth(image.Rect(0, 0, tt.w, tt.h)); got != tt.want {
			t.Errorf("LineWidth(%dx%d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestColorForWrapsPalette(t *testing.T) {
	if ColorFor(0) != ColorFor(len(palette)) {
		t.Fatal("palette should wrap around")
	}
	if ColorFor(0) == ColorFor(1) {
		t.Fatal("neighbouring classes should differ")
	}
	if ColorFor(0) != (color.RGBA{R: 0xFF, G: 0x38, B: 0x38, A: 0xFF}) {
		t.Fatalf("unexpected first colour %v", ColorFor(0))
	}
}

func TestAnnotateDrawsBoxAndCaption(t *testing.T) {
	src := solidImage(200, 120)
	boxes := []Box{{ClassIndex: 2, Score: 0.87, Rect: [4]float32{50, 60, 150, 110}}}
	dets := []models.Detection{{Label: "car", Confidence: 0.87, BBox: [4]int{50, 60, 150, 110}}}

	out := NewAnnotator().Annotate(src, boxes, dets)

	if out.Bounds() != image.Rect(0, 0, 200, 120) {
		t.Fatalf("unexpected bounds %v", out.Bounds())
	}

	want := ColorFor(2)
	// Bottom edge of the outline.
	if got := out.RGBAAt(100, 109); got != want {
		t.Errorf("outline pixel = %v, want %v", got, want)
	}
	// Interior stays untouched.
	if got := out.RGBAAt(100, 90); got != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("interior pixel = %v", got)
	}
	// Caption strip sits above the box.
	if got := out.RGBAAt(51, 58); got != want && got != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("caption strip pixel = %v", got)
	}
	// Far corner is untouched.
	if got := out.RGBAAt(199, 0); got != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("background pixel = %v", got)
	}
}

func TestAnnotateCaptionInsideWhenNoRoom(t *testing.T) {
	src := solidImage(100, 100)
	boxes := []Box{{ClassIndex: 0, Score: 0.5, Rect: [4]float32{0, 0, 90, 90}}}
	dets := []models.Detection{{Label: "dog", Confidence: 0.5, BBox: [4]int{0, 0, 90, 90}}}

	out := NewAnnotator().Annotate(src, boxes, dets)

	// Strip starts at the box top and covers the first rows inside it.
	if got := out.RGBAAt(3, 5); got == (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("expected caption strip inside the box, got background %v", got)
	}
}

func TestAnnotateSkipsEmptyBoxes(t *testing.T) {
	src := solidImage(10, 10)
	boxes := []Box{{ClassIndex: 0, Score: 0.9, Rect: [4]float32{20, 20, 30, 30}}}
	dets := []models.Detection{{Label: "ghost", Confidence: 0.9, BBox: [4]int{20, 20, 30, 30}}}

	out := NewAnnotator().Annotate(src, boxes, dets)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			if got := out.RGBAAt(x, y); got != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
				t.Fatalf("pixel (%d,%d) changed to %v", x, y, got)
			}
		}
	}
}
