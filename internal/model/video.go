package model

import (
	"time"

	"gorm.io/gorm"

	"pose-tracker-go/pkg/models"
)

// Статусы видео
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Video представляет загруженное видео и итог его обработки
type Video struct {
	ID               string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OriginalFilename string `gorm:"type:varchar(255);not null" json:"original_filename"`
	OriginalPath     string `gorm:"type:varchar(500);not null" json:"-"`
	ProcessedPath    string `gorm:"type:varchar(500)" json:"-"`
	Status           string `gorm:"type:varchar(20);not null;index" json:"status"`
	Error            string `gorm:"type:text" json:"error,omitempty"`
	Codec            string `gorm:"type:varchar(8)" json:"codec,omitempty"`

	// Свойства исходного видео
	Width      int     `gorm:"not null;default:0" json:"width"`
	Height     int     `gorm:"not null;default:0" json:"height"`
	FPS        float64 `gorm:"not null;default:0" json:"fps"`
	FrameCount int     `gorm:"not null;default:0" json:"frame_count"`

	// Статистика обработки
	FramesProcessed int     `gorm:"not null;default:0" json:"frames_processed"`
	PosesDetected   int     `gorm:"not null;default:0" json:"poses_detected"`
	DetectionRate   float64 `gorm:"not null;default:0" json:"detection_rate"`

	// Параметры, с которыми выполнялась последняя обработка
	Parameters models.Parameters `gorm:"type:jsonb;serializer:json" json:"parameters"`

	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Frames []PoseFrame `gorm:"foreignKey:VideoID;constraint:OnDelete:CASCADE" json:"-"`
}

// PoseFrame точки стабильной позы на одном кадре
type PoseFrame struct {
	ID         uint              `gorm:"primaryKey;autoIncrement" json:"-"`
	VideoID    string            `gorm:"type:varchar(36);not null;index:idx_pose_frames_video_frame,priority:1" json:"video_id"`
	FrameIndex int               `gorm:"not null;index:idx_pose_frames_video_frame,priority:2" json:"frame_index"`
	Landmarks  []models.Landmark `gorm:"type:jsonb;serializer:json" json:"landmarks"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Info свойства исходного видео
func (v *Video) Info() models.VideoInfo {
	return models.VideoInfo{Width: v.Width, Height: v.Height, FPS: v.FPS, FrameCount: v.FrameCount}
}

// Stats статистика последней обработки
func (v *Video) Stats() models.VideoStats {
	return models.VideoStats{FramesProcessed: v.FramesProcessed, PosesDetected: v.PosesDetected}
}

// Terminal сообщает, что обработка видео завершена (успешно или нет)
func (v *Video) Terminal() bool {
	return v.Status != StatusProcessing
}

// TableName указывает имя таблицы для Video
func (Video) TableName() string {
	return "videos"
}

// TableName указывает имя таблицы для PoseFrame
func (PoseFrame) TableName() string {
	return "pose_frames"
}

// Detections переводит строки кадров в формат анализа
func Detections(frames []PoseFrame) []models.FrameLandmarks {
	out := make([]models.FrameLandmarks, 0, len(frames))
	for _, f := range frames {
		out = append(out, models.FrameLandmarks{FrameIndex: f.FrameIndex, Landmarks: f.Landmarks})
	}
	return out
}

// NewPoseFrames строит строки кадров для видео id
func NewPoseFrames(id string, detections []models.FrameLandmarks) []PoseFrame {
	frames := make([]PoseFrame, 0, len(detections))
	for _, d := range detections {
		frames = append(frames, PoseFrame{VideoID: id, FrameIndex: d.FrameIndex, Landmarks: d.Landmarks})
	}
	return frames
}
