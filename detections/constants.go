package detections

import "time"

const (
	DefaultInputSize    = 640
	ConfThreshold       = 0.5
	DefaultIoUThreshold = 0.7
	MaxDetections       = 300

	// YOLO heads predict at strides 8, 16 and 32.
	minStride = 8

	DefaultPoolSize       = 2
	DefaultAcquireTimeout = 30 * time.Second
	HealthCheckPeriod     = 30 * time.Second
)
