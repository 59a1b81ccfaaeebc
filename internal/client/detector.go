// Package client реализует удаленные детекторы позы (HTTP и gRPC).
package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/pkg/models"
)

// ErrDetector детектор ответил ошибкой или некорректными данными
var ErrDetector = errors.New("detector error")

// Транспорты детектора
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Config параметры подключения к детектору
type Config struct {
	Transport   string
	BaseURL     string        // Для http
	GRPCAddr    string        // Для grpc
	Timeout     time.Duration // На один запрос
	JPEGQuality int
}

// NewFactory возвращает фабрику детекторов для настроенного транспорта.
// Каждый созданный детектор открывает свою сессию на стороне модели.
func NewFactory(cfg Config, logger *logrus.Logger) (pipeline.SourceFactory, error) {
	switch cfg.Transport {
	case TransportHTTP, "":
		return func(opts models.DetectorOptions) (pipeline.LandmarkSource, error) {
			return NewHTTPDetector(cfg, opts, logger), nil
		}, nil
	case TransportGRPC:
		return func(opts models.DetectorOptions) (pipeline.LandmarkSource, error) {
			return NewGRPCDetector(cfg, opts, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unknown detector transport %q", cfg.Transport)
	}
}

func jpegQuality(q int) int {
	if q <= 0 || q > 100 {
		return 90
	}
	return q
}
