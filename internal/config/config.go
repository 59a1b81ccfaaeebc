package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pose-tracker-go/internal/client"
	"pose-tracker-go/internal/database"
	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/internal/pose"
	"pose-tracker-go/pkg/models"
)

// Config структура конфигурации приложения
type Config struct {
	Server struct {
		Port        int
		Host        string
		Environment string
	}
	Storage struct {
		Backend      string // postgres | memory
		UploadDir    string
		ProcessedDir string
		MaxUploadMB  int
	}
	Database database.Config
	Detector client.Config
	Pipeline struct {
		Codecs            []string
		ProgressInterval  int
		MaxDetectorErrors int
	}
	Logging struct {
		Level string
	}
	// ParamsFile YAML с параметрами детектора и фильтра
	ParamsFile string
}

// LoadConfig загружает конфигурацию из переменных окружения
func LoadConfig() *Config {
	cfg := &Config{}

	// Конфигурация сервера
	cfg.Server.Port = getEnvInt("SERVER_PORT", 8080)
	cfg.Server.Host = getEnv("SERVER_HOST", "0.0.0.0")
	cfg.Server.Environment = getEnv("ENVIRONMENT", "development")

	// Хранилище
	cfg.Storage.Backend = getEnv("STORAGE_BACKEND", "postgres")
	cfg.Storage.UploadDir = getEnv("UPLOAD_DIR", "uploads")
	cfg.Storage.ProcessedDir = getEnv("PROCESSED_DIR", "processed")
	cfg.Storage.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", 500)

	cfg.Database = database.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		Database: getEnv("DB_NAME", "pose_tracker"),
		Username: getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	}

	// Детектор позы
	cfg.Detector = client.Config{
		Transport:   getEnv("DETECTOR_TRANSPORT", client.TransportHTTP),
		BaseURL:     getEnv("DETECTOR_BASE_URL", "http://localhost:8000"),
		GRPCAddr:    getEnv("DETECTOR_GRPC_ADDR", "localhost:50051"),
		Timeout:     getEnvDuration("DETECTOR_TIMEOUT_SECONDS", 30*time.Second),
		JPEGQuality: getEnvInt("DETECTOR_JPEG_QUALITY", 90),
	}

	// Конвейер
	cfg.Pipeline.Codecs = getEnvList("OUTPUT_CODECS", pipeline.DefaultCodecs)
	cfg.Pipeline.ProgressInterval = getEnvInt("PROGRESS_INTERVAL_FRAMES", pipeline.DefaultProgressInterval)
	cfg.Pipeline.MaxDetectorErrors = getEnvInt("DETECTOR_MAX_ERRORS", pipeline.DefaultMaxDetectorErrors)

	// Конфигурация логирования
	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")

	cfg.ParamsFile = getEnv("POSE_PARAMS_FILE", "")

	return cfg
}

// MaxUploadBytes предел размера загрузки в байтах
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Storage.MaxUploadMB) << 20
}

// LoadParameters читает параметры из YAML поверх значений по умолчанию и проверяет их.
// Пустой путь означает значения по умолчанию.
func LoadParameters(path string) (models.Parameters, error) {
	params := models.DefaultParameters()
	if path == "" {
		return params, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("read parameters file: %w", err)
	}

	var patch models.ParameterPatch
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&patch); err != nil && !errors.Is(err, io.EOF) {
		return params, fmt.Errorf("parse parameters file %s: %w", path, err)
	}

	params = params.Apply(patch)
	if err := pose.ValidateParameters(params); err != nil {
		return models.DefaultParameters(), fmt.Errorf("parameters file %s: %w", path, err)
	}
	return params, nil
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает int значение переменной окружения или возвращает значение по умолчанию
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration читает число секунд
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds >= 0 {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	return defaultValue
}

// getEnvList читает список через запятую
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return out
}
