package main

import (
	"context"
	"image"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sys/cpu"

	"github.com/Tutortoise/object-detection-service/dashboard"
	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/history"
	"github.com/Tutortoise/object-detection-service/ingest"
	"github.com/Tutortoise/object-detection-service/logging"
	"github.com/Tutortoise/object-detection-service/models"
	"github.com/Tutortoise/object-detection-service/results"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type detector interface {
	Detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) (*detections.Result, error)
}

type poolReporter interface {
	PoolMetrics() detections.PoolMetrics
}

// AppState carries everything the handlers share. It is built once in main.
type AppState struct {
	Detector       detector
	History        *history.Ring
	Dashboard      http.Handler
	Pool           poolReporter
	Logger         *zap.Logger
	MaxUploadBytes int64
	Debug          bool

	now   func() time.Time
	newID func() string
}

func (s *AppState) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *AppState) recordID() string {
	if s.newID != nil {
		return s.newID()
	}
	return ulid.Make().String()
}

func newRouter(s *AppState, corsOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/dashboard", s.Dashboard).Methods(http.MethodGet)
	s.addMonitoringRoutes(r)
	r.PathPrefix("/static/").Handler(dashboard.StaticHandler()).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{Error: MsgMethodNotAllowed})
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: MsgNotFound})
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins(corsOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", RequestIDHeader}),
		handlers.ExposedHeaders([]string{RequestIDHeader}),
	)

	return withRequestID(accessLog(s.Logger)(recoverPanics(s.Logger)(cors(r))))
}

func (s *AppState) handlePredict(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	requestID := requestIDFrom(r.Context())
	logger := logging.WithOperation(s.Logger, "predict", requestID)
	timings := &models.ProcessingTimings{RequestID: requestID}

	logger.Debug("received request",
		zap.String("content_type", r.Header.Get("Content-Type")),
		zap.Int64("content_length", r.ContentLength),
	)

	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)

	decodeStart := time.Now()
	upload, err := ingest.FromRequest(r, s.MaxUploadBytes)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		s.writeError(w, logger, err)
		return
	}

	bounds := upload.Image.Bounds()
	logger.Info("image received",
		zap.String("source", upload.Source),
		zap.String("format", upload.Format),
		zap.Int("bytes", upload.Bytes),
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
	)

	result, err := s.Detector.Detect(r.Context(), upload.Image, timings)
	if err != nil {
		s.writeError(w, logger, err)
		return
	}

	encodeStart := time.Now()
	response, encoded, err := results.Build(result.Detections, result.Annotated)
	timings.Encode = time.Since(encodeStart)
	if err != nil {
		s.writeError(w, logger, err)
		return
	}

	s.History.Record(models.RequestRecord{
		ID:          s.recordID(),
		Timestamp:   s.clock().Format(TimestampLayout),
		ImageBase64: encoded,
		Predictions: response.Predictions,
	})

	timings.Total = time.Since(startTotal)
	s.logTimings(logger, timings)
	logger.Info("returning predictions", zap.Int("detections", response.TotalDetections))

	writeJSON(w, http.StatusOK, response)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: StatusHealthy, ModelLoaded: true})
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"history": map[string]int{
			"length":   s.History.Len(),
			"capacity": s.History.Capacity(),
		},
		"goroutines": runtime.NumGoroutine(),
		"cpu":        cpuFeatures(),
	}
	if s.Pool != nil {
		response["pool"] = s.Pool.PoolMetrics()
	}

	writeJSON(w, http.StatusOK, response)
}

// cpuFeatures reports the instruction sets ONNX Runtime picks kernels for.
func cpuFeatures() map[string]interface{} {
	return map[string]interface{}{
		"arch":     runtime.GOARCH,
		"num_cpu":  runtime.NumCPU(),
		"avx2":     cpu.X86.HasAVX2,
		"avx512f":  cpu.X86.HasAVX512F,
		"fma":      cpu.X86.HasFMA,
		"sse41":    cpu.X86.HasSSE41,
		"arm_simd": cpu.ARM64.HasASIMD,
	}
}

func (s *AppState) logTimings(logger *zap.Logger, t *models.ProcessingTimings) {
	if !s.Debug {
		return
	}
	logger.Debug("processing times",
		zap.Duration("image_decode", t.ImageDecode),
		zap.Duration("preprocess", t.Preprocess),
		zap.Duration("inference", t.Inference),
		zap.Duration("postprocess", t.Postprocess),
		zap.Duration("annotate", t.Annotate),
		zap.Duration("encode", t.Encode),
		zap.Duration("total", t.Total),
	)
}

func (s *AppState) writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := models.StatusCode(err)
	fields := []zap.Field{
		zap.Error(err),
		zap.String("kind", models.KindOf(err).String()),
		zap.Int("status", status),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("prediction failed", fields...)
	} else {
		logger.Warn("rejected request", fields...)
	}

	writeJSON(w, status, models.ErrorResponse{Error: err.Error(), Success: false})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
