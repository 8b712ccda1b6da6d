package models

import "time"

// Detection is one object instance reported for a request.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
}

// RequestRecord is a finished prediction kept for the dashboard.
type RequestRecord struct {
	ID          string      `json:"id"`
	Timestamp   string      `json:"timestamp"`
	ImageBase64 string      `json:"image_base64,omitempty"`
	Predictions []Detection `json:"predictions"`
}

type PredictResponse struct {
	Success         bool        `json:"success"`
	Predictions     []Detection `json:"predictions"`
	TopPrediction   *Detection  `json:"top_prediction"`
	TotalDetections int         `json:"total_detections"`
	ImageResult     *string     `json:"image_result"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Annotate    time.Duration
	Encode      time.Duration
	Total       time.Duration
}
