// Package results turns detections into the predict response body.
package results

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"

	"github.com/Tutortoise/object-detection-service/models"
)

const (
	DataURLPrefix = "data:image/png;base64,"

	MsgEncodeFailed = "Failed to encode annotated image"
)

// Build assembles the success response. When annotated is non-nil it is
// PNG encoded; the bare base64 payload is returned alongside so callers can
// store it without the data URL prefix.
func Build(dets []models.Detection, annotated *image.RGBA) (*models.PredictResponse, string, error) {
	if dets == nil {
		dets = []models.Detection{}
	}

	resp := &models.PredictResponse{
		Success:         true,
		Predictions:     dets,
		TopPrediction:   TopPrediction(dets),
		TotalDetections: len(dets),
	}

	if annotated == nil {
		return resp, "", nil
	}

	encoded, err := EncodePNG(annotated)
	if err != nil {
		return nil, "", models.NewInferenceFailure(MsgEncodeFailed, err)
	}
	dataURL := DataURL(encoded)
	resp.ImageResult = &dataURL
	return resp, encoded, nil
}

// TopPrediction returns the highest confidence detection. Ties go to the
// earliest one. It returns nil for an empty slice.
func TopPrediction(dets []models.Detection) *models.Detection {
	if len(dets) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(dets); i++ {
		if dets[i].Confidence > dets[best].Confidence {
			best = i
		}
	}
	top := dets[best]
	return &top
}

// EncodePNG returns img as base64 encoded PNG.
func EncodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func DataURL(encoded string) string {
	return DataURLPrefix + encoded
}
