package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr            string `validate:"required"`
	ModelPath       string `validate:"required"`
	LabelsPath      string
	OrtLibPath      string        `validate:"required"`
	PoolSize        int           `validate:"gte=1,lte=64"`
	IntraOpThreads  int           `validate:"gte=1"`
	IoUThreshold    float64       `validate:"gt=0,lte=1"`
	AcquireTimeout  time.Duration `validate:"gt=0"`
	MaxUploadBytes  int64         `validate:"gt=0"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	LogLevel        string        `validate:"oneof=debug info warn error"`
	LogFile         string
	Debug           bool
	CORSOrigins     []string `validate:"min=1"`
}

// Load reads the configuration from the environment, after applying an
// optional .env file from the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	poolSize := getEnvAsInt("POOL_SIZE", 2)
	debug := getEnvAsBool("DEBUG", false)
	logLevel := strings.ToLower(getEnv("LOG_LEVEL", "info"))
	if debug {
		logLevel = "debug"
	}

	cfg := &Config{
		Addr:            getEnv("ADDR", "0.0.0.0:5000"),
		ModelPath:       getEnv("MODEL_PATH", "best.onnx"),
		LabelsPath:      getEnv("LABELS_PATH", ""),
		OrtLibPath:      getEnv("ORT_LIB_PATH", defaultSharedLibPath()),
		PoolSize:        poolSize,
		IntraOpThreads:  getEnvAsInt("INTRA_OP_THREADS", max(1, runtime.NumCPU()/max(1, poolSize))),
		IoUThreshold:    getEnvAsFloat("IOU_THRESHOLD", 0.7),
		AcquireTimeout:  getEnvAsDuration("ACQUIRE_TIMEOUT", 30*time.Second),
		MaxUploadBytes:  getEnvAsInt64("MAX_UPLOAD_BYTES", 32<<20),
		ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", 60*time.Second),
		WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:        logLevel,
		LogFile:         getEnv("LOG_FILE", ""),
		Debug:           debug,
		CORSOrigins:     getEnvAsList("CORS_ORIGINS", []string{"*"}),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// defaultSharedLibPath returns the ONNX Runtime library shipped under ./lib for this platform.
func defaultSharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join("lib", "onnxruntime.dll")
	case "darwin":
		return filepath.Join("lib", "libonnxruntime.dylib")
	default:
		if runtime.GOARCH == "arm64" {
			return filepath.Join("lib", "libonnxruntime_arm64.so")
		}
		return filepath.Join("lib", "libonnxruntime.so")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
