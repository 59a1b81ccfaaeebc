package service

import (
	"time"

	"pose-tracker-go/internal/model"
	"pose-tracker-go/internal/pose"
	"pose-tracker-go/pkg/models"
)

// UploadResponse ответ на загрузку видео
type UploadResponse struct {
	VideoID     string `json:"video_id"`
	Status      string `json:"status"`
	ProgressURL string `json:"progress_url"`
}

// VideoResponse ответ с информацией о видео
type VideoResponse struct {
	ID               string            `json:"id"`
	OriginalFilename string            `json:"original_filename"`
	Status           string            `json:"status"`
	Error            string            `json:"error,omitempty"`
	Codec            string            `json:"codec,omitempty"`
	Info             models.VideoInfo  `json:"info"`
	Duration         float64           `json:"duration_seconds"`
	FramesProcessed  int               `json:"frames_processed"`
	PosesDetected    int               `json:"poses_detected"`
	DetectionRate    float64           `json:"detection_rate"`
	Parameters       models.Parameters `json:"parameters"`
	OriginalURL      string            `json:"original_url"`
	ProcessedURL     string            `json:"processed_url,omitempty"`
	ProgressURL      string            `json:"progress_url"`
	CreatedAt        time.Time         `json:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// ListVideosResponse ответ со списком видео
type ListVideosResponse struct {
	Videos []VideoResponse `json:"videos"`
	Total  int64           `json:"total"`
	Page   int             `json:"page"`
	Size   int             `json:"size"`
}

// AnalysisResponse сводка по стабильным позам видео
type AnalysisResponse struct {
	VideoID    string            `json:"video_id"`
	Summary    pose.VideoSummary `json:"summary"`
	Parameters models.Parameters `json:"parameters"`
}

// HealthStatus состояние сервиса и его зависимостей
type HealthStatus struct {
	Status        string                 `json:"status"`
	Service       string                 `json:"service"`
	Detector      *models.HealthResponse `json:"detector,omitempty"`
	DetectorError string                 `json:"detector_error,omitempty"`
	Storage       string                 `json:"storage"`
}

// Healthy сообщает, что все зависимости в порядке
func (h HealthStatus) Healthy() bool {
	return h.Status == "healthy"
}

func apiPrefix(id string) string {
	return "/api/v1/videos/" + id
}

func toResponse(v *model.Video) VideoResponse {
	resp := VideoResponse{
		ID:               v.ID,
		OriginalFilename: v.OriginalFilename,
		Status:           v.Status,
		Error:            v.Error,
		Codec:            v.Codec,
		Info:             v.Info(),
		Duration:         v.Info().Duration(),
		FramesProcessed:  v.FramesProcessed,
		PosesDetected:    v.PosesDetected,
		DetectionRate:    v.DetectionRate,
		Parameters:       v.Parameters,
		OriginalURL:      apiPrefix(v.ID) + "/original",
		ProgressURL:      apiPrefix(v.ID) + "/progress",
		CreatedAt:        v.CreatedAt,
		CompletedAt:      v.CompletedAt,
	}
	if v.Status == model.StatusCompleted {
		resp.ProcessedURL = apiPrefix(v.ID) + "/processed"
	}
	return resp
}
