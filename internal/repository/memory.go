package repository

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"pose-tracker-go/internal/model"
	"pose-tracker-go/pkg/models"
)

// memoryRepository хранит видео в памяти процесса (STORAGE_BACKEND=memory и тесты)
type memoryRepository struct {
	mu     sync.RWMutex
	videos map[string]model.Video
	frames map[string][]model.PoseFrame
	now    func() time.Time
}

// NewMemoryRepository создает пустое хранилище в памяти
func NewMemoryRepository() VideoRepository {
	return &memoryRepository{
		videos: make(map[string]model.Video),
		frames: make(map[string][]model.PoseFrame),
		now:    time.Now,
	}
}

func (r *memoryRepository) Create(video *model.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.videos[video.ID]; ok {
		return fmt.Errorf("failed to create video: duplicate id %s", video.ID)
	}
	now := r.now()
	video.CreatedAt = now
	video.UpdatedAt = now
	r.videos[video.ID] = detach(*video)
	return nil
}

func (r *memoryRepository) GetByID(id string) (*model.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.videos[id]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	v = detach(v)
	return &v, nil
}

func (r *memoryRepository) GetFrames(videoID string) ([]model.PoseFrame, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.frames[videoID]
	out := make([]model.PoseFrame, len(stored))
	for i, f := range stored {
		f.Landmarks = append([]models.Landmark(nil), f.Landmarks...)
		out[i] = f
	}
	return out, nil
}

func (r *memoryRepository) List(page, pageSize int) ([]*model.Video, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*model.Video, 0, len(r.videos))
	for _, v := range r.videos {
		v = detach(v)
		all = append(all, &v)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	start := (page - 1) * pageSize
	if start < 0 || start >= len(all) {
		return []*model.Video{}, total, nil
	}
	end := min(start+pageSize, len(all))
	return all[start:end], total, nil
}

func (r *memoryRepository) Update(video *model.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(video)
}

func (r *memoryRepository) SaveResult(video *model.Video, frames []model.PoseFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.updateLocked(video); err != nil {
		return err
	}
	stored := make([]model.PoseFrame, len(frames))
	for i, f := range frames {
		f.ID = uint(i + 1)
		f.VideoID = video.ID
		f.Landmarks = append([]models.Landmark(nil), f.Landmarks...)
		stored[i] = f
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].FrameIndex < stored[j].FrameIndex })
	r.frames[video.ID] = stored
	return nil
}

func (r *memoryRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.videos[id]; !ok {
		return fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	delete(r.videos, id)
	delete(r.frames, id)
	return nil
}

func (r *memoryRepository) updateLocked(video *model.Video) error {
	old, ok := r.videos[video.ID]
	if !ok {
		return fmt.Errorf("video %s: %w", video.ID, ErrNotFound)
	}
	video.CreatedAt = old.CreatedAt
	video.UpdatedAt = r.now()
	r.videos[video.ID] = detach(*video)
	return nil
}

// detach отвязывает копию от вызывающего: кадры хранятся отдельно
func detach(v model.Video) model.Video {
	v.Frames = nil
	if v.CompletedAt != nil {
		t := *v.CompletedAt
		v.CompletedAt = &t
	}
	return v
}
