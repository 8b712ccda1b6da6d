package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Tutortoise/object-detection-service/config"
	"github.com/Tutortoise/object-detection-service/dashboard"
	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/history"
	"github.com/Tutortoise/object-detection-service/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return logging.NewOperationError("startup.model_file", "", err)
	}

	ort.SetSharedLibraryPath(cfg.OrtLibPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return logging.NewOperationError("startup.onnx_environment", "", err)
	}
	defer ort.DestroyEnvironment()

	backend, err := detections.NewONNXBackend(detections.ModelConfig{
		ModelPath:      cfg.ModelPath,
		LabelsPath:     cfg.LabelsPath,
		PoolSize:       cfg.PoolSize,
		IntraOpThreads: cfg.IntraOpThreads,
		IoUThreshold:   float32(cfg.IoUThreshold),
		AcquireTimeout: cfg.AcquireTimeout,
	}, logger.Named("detections"))
	if err != nil {
		return err
	}
	defer backend.Close()

	ring := history.New(history.DefaultCapacity)
	dash, err := dashboard.New(ring, logger.Named("dashboard"))
	if err != nil {
		return err
	}

	state := &AppState{
		Detector:       detections.NewAdapter(backend, logger.Named("adapter")),
		History:        ring,
		Dashboard:      dash,
		Pool:           backend,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Debug:          cfg.Debug,
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(state, cfg.CORSOrigins),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	logger.Info("object detection service listening",
		zap.String("addr", cfg.Addr),
		zap.String("model_path", cfg.ModelPath),
		zap.Int("pool_size", cfg.PoolSize),
		zap.Bool("debug", cfg.Debug),
	)
	return serveHTTPServer(server, cfg.ShutdownTimeout, logger)
}
