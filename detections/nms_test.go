package detections

import (
	"math"
	"testing"
)

func box(class int, score float32, x1, y1, x2, y2 float32) Box {
	return Box{ClassIndex: class, Score: score, Rect: [4]float32{x1, y1, x2, y2}}
}

func TestCalculateIOU(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float32
	}{
		{"identical", box(0, 1, 0, 0, 10, 10), box(0, 1, 0, 0, 10, 10), 1},
		{"disjoint", box(0, 1, 0, 0, 10, 10), box(0, 1, 20, 20, 30, 30), 0},
		{"touching", box(0, 1, 0, 0, 10, 10), box(0, 1, 10, 0, 20, 10), 0},
		{"half overlap", box(0, 1, 0, 0, 10, 10), box(0, 1, 5, 0, 15, 10), 50.0 / 150.0},
		{"degenerate", box(0, 1, 5, 5, 5, 5), box(0, 1, 5, 5, 5, 5), 0},
	}

	for _, tt := range tests {
		if got := calculateIOU(tt.a, tt.b); math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("%s: IoU = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNonMaxSuppressionIsClassAware(t *testing.T) {
	boxes := []Box{
		box(0, 0.60, 1, 1, 101, 101),
		box(0, 0.90, 0, 0, 100, 100),
		box(1, 0.80, 0, 0, 100, 100),
		box(0, 0.70, 300, 300, 400, 400),
	}

	kept := nonMaxSuppression(boxes, DefaultIoUThreshold, MaxDetections)

	if len(kept) != 3 {
		t.Fatalf("expected 3 boxes, got %d: %+v", len(kept), kept)
	}
	wantScores := []float32{0.90, 0.80, 0.70}
	for i, want := range wantScores {
		if kept[i].Score != want {
			t.Errorf("box %d score = %v, want %v", i, kept[i].Score, want)
		}
	}
	if kept[1].ClassIndex != 1 {
		t.Errorf("overlapping box of a different class should survive, got class %d", kept[1].ClassIndex)
	}
}

func TestNonMaxSuppressionKeepsOverlapBelowThreshold(t *testing.T) {
	// IoU of these two is 1/3.
	boxes := []Box{
		box(2, 0.9, 0, 0, 10, 10),
		box(2, 0.8, 5, 0, 15, 10),
	}
	if kept := nonMaxSuppression(boxes, 0.5, MaxDetections); len(kept) != 2 {
		t.Fatalf("expected both boxes to survive, got %d", len(kept))
	}
	if kept := nonMaxSuppression(boxes, 0.3, MaxDetections); len(kept) != 1 {
		t.Fatalf("expected the weaker box to be suppressed, got %d", len(kept))
	}
}

func TestNonMaxSuppressionLimit(t *testing.T) {
	boxes := make([]Box, 0, 50)
	for i := 0; i < 50; i++ {
		x := float32(i * 20)
		boxes = append(boxes, box(0, float32(i)/100, x, 0, x+10, 10))
	}

	kept := nonMaxSuppression(boxes, DefaultIoUThreshold, 5)
	if len(kept) != 5 {
		t.Fatalf("expected 5 boxes, got %d", len(kept))
	}
	if kept[0].Score != 0.49 {
		t.Errorf("expected best box first, got %v", kept[0].Score)
	}
}

func TestNonMaxSuppressionEmpty(t *testing.T) {
	if kept := nonMaxSuppression(nil, DefaultIoUThreshold, MaxDetections); kept != nil {
		t.Fatalf("expected nil, got %v", kept)
	}
}
