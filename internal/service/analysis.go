package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"pose-tracker-go/internal/model"
	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/internal/pose"
	"pose-tracker-go/pkg/models"
)

// serviceName имя сервиса в ответах о состоянии
const serviceName = "pose-tracker"

// Analyze строит сводку по стабильным позам обработанного видео
func (s *VideoService) Analyze(id string) (*AnalysisResponse, error) {
	video, err := s.getVideo(id)
	if err != nil {
		return nil, err
	}
	if video.Status != model.StatusCompleted {
		return nil, ErrVideoNotReady
	}

	frames, err := s.repo.GetFrames(id)
	if err != nil {
		s.logger.Errorf("Ошибка получения кадров видео %s: %v", id, err)
		return nil, fmt.Errorf("failed to get frames: %w", err)
	}

	return &AnalysisResponse{
		VideoID:    id,
		Summary:    pose.SummarizeVideo(video.Stats(), model.Detections(frames)),
		Parameters: video.Parameters,
	}, nil
}

// Parameters возвращает текущие параметры детектора и фильтра
func (s *VideoService) Parameters() models.Parameters {
	return s.processor.Parameters()
}

// UpdateParameters применяет частичное обновление параметров; ждет окончания активной обработки
func (s *VideoService) UpdateParameters(ctx context.Context, patch models.ParameterPatch) (models.Parameters, error) {
	return s.processor.UpdateParameters(ctx, patch)
}

// CheckHealth проверяет состояние детектора и хранилища
func (s *VideoService) CheckHealth(ctx context.Context) HealthStatus {
	s.logger.Debug("Проверяем состояние сервиса")

	status := HealthStatus{Status: "healthy", Service: serviceName, Storage: "memory"}

	detector, err := s.processor.CheckDetector(ctx)
	switch {
	case errors.Is(err, pipeline.ErrNoHealthCheck):
		// Детектор без проверки состояния считаем рабочим
	case err != nil:
		s.logger.Errorf("Детектор недоступен: %v", err)
		status.Status = "unhealthy"
		status.DetectorError = err.Error()
	default:
		status.Detector = detector
		if detector.Status != "healthy" {
			status.Status = "unhealthy"
		}
	}

	if s.opts.StorageHealth != nil {
		status.Storage = "ok"
		if err := s.opts.StorageHealth(); err != nil {
			s.logger.Errorf("Хранилище недоступно: %v", err)
			status.Storage = err.Error()
			status.Status = "unhealthy"
		}
	}

	return status
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
