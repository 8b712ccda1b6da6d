package detections

import "sort"

// Box is a raw detection in source image pixels.
type Box struct {
	ClassIndex int
	Score      float32
	// Rect is x_min, y_min, x_max, y_max.
	Rect [4]float32
}

func (b Box) area() float32 {
	return max(0, b.Rect[2]-b.Rect[0]) * max(0, b.Rect[3]-b.Rect[1])
}

func calculateIOU(a, b Box) float32 {
	x1 := max(a.Rect[0], b.Rect[0])
	y1 := max(a.Rect[1], b.Rect[1])
	x2 := min(a.Rect[2], b.Rect[2])
	y2 := min(a.Rect[3], b.Rect[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.area() + b.area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// nonMaxSuppression keeps the highest scoring box of every group of
// same-class boxes overlapping by more than iouThreshold. The result is sorted
// by score, highest first, and holds at most limit boxes.
func nonMaxSuppression(boxes []Box, iouThreshold float32, limit int) []Box {
	if len(boxes) == 0 {
		return nil
	}

	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].Score > boxes[j].Score
	})

	kept := make([]Box, 0, min(len(boxes), limit))
	suppressed := make([]bool, len(boxes))
	for i := range boxes {
		if suppressed[i] {
			continue
		}
		kept = append(kept, boxes[i])
		if len(kept) == limit {
			break
		}
		for j := i + 1; j < len(boxes); j++ {
			if suppressed[j] || boxes[j].ClassIndex != boxes[i].ClassIndex {
				continue
			}
			if calculateIOU(boxes[i], boxes[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
