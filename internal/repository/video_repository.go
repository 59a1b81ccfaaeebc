package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pose-tracker-go/internal/model"
)

// ErrNotFound запись не найдена
var ErrNotFound = errors.New("record not found")

// frameBatchSize размер пачки при вставке кадров
const frameBatchSize = 500

// VideoRepository интерфейс для работы с видео и кадрами поз
type VideoRepository interface {
	Create(video *model.Video) error
	GetByID(id string) (*model.Video, error)
	GetFrames(videoID string) ([]model.PoseFrame, error)
	List(page, pageSize int) ([]*model.Video, int64, error)
	Update(video *model.Video) error
	// SaveResult сохраняет видео и заменяет его кадры одной транзакцией
	SaveResult(video *model.Video, frames []model.PoseFrame) error
	Delete(id string) error
}

// videoRepository реализация VideoRepository на GORM
type videoRepository struct {
	db *gorm.DB
}

// NewVideoRepository создает репозиторий поверх PostgreSQL
func NewVideoRepository(db *gorm.DB) VideoRepository {
	return &videoRepository{
		db: db,
	}
}

// Create создает запись видео без кадров
func (r *videoRepository) Create(video *model.Video) error {
	if err := r.db.Omit(clause.Associations).Create(video).Error; err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}
	return nil
}

// GetByID получает видео по ID
func (r *videoRepository) GetByID(id string) (*model.Video, error) {
	var video model.Video
	err := r.db.Where("id = ?", id).First(&video).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return &video, nil
}

// GetFrames получает кадры поз видео по порядку
func (r *videoRepository) GetFrames(videoID string) ([]model.PoseFrame, error) {
	var frames []model.PoseFrame
	err := r.db.Where("video_id = ?", videoID).Order("frame_index ASC").Find(&frames).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get frames: %w", err)
	}
	return frames, nil
}

// List получает список видео с пагинацией, новые первыми
func (r *videoRepository) List(page, pageSize int) ([]*model.Video, int64, error) {
	var videos []*model.Video
	var total int64

	if err := r.db.Model(&model.Video{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count videos: %w", err)
	}

	offset := (page - 1) * pageSize
	err := r.db.Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Find(&videos).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list videos: %w", err)
	}

	return videos, total, nil
}

// Update сохраняет поля видео, кадры не трогает
func (r *videoRepository) Update(video *model.Video) error {
	if err := r.db.Omit(clause.Associations).Save(video).Error; err != nil {
		return fmt.Errorf("failed to update video: %w", err)
	}
	return nil
}

// SaveResult сохраняет видео и заменяет его кадры
func (r *videoRepository) SaveResult(video *model.Video, frames []model.PoseFrame) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(video).Error; err != nil {
			return fmt.Errorf("failed to update video: %w", err)
		}

		// Кадры прошлой обработки удаляются физически
		if err := tx.Unscoped().Where("video_id = ?", video.ID).Delete(&model.PoseFrame{}).Error; err != nil {
			return fmt.Errorf("failed to delete old frames: %w", err)
		}

		if len(frames) == 0 {
			return nil
		}
		for i := range frames {
			frames[i].ID = 0
			frames[i].VideoID = video.ID
		}
		if err := tx.CreateInBatches(frames, frameBatchSize).Error; err != nil {
			return fmt.Errorf("failed to create frames: %w", err)
		}
		return nil
	})
}

// Delete удаляет видео и его кадры
func (r *videoRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", id).Delete(&model.PoseFrame{}).Error; err != nil {
			return fmt.Errorf("failed to delete frames: %w", err)
		}

		result := tx.Where("id = ?", id).Delete(&model.Video{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete video: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("video %s: %w", id, ErrNotFound)
		}
		return nil
	})
}
