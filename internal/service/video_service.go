package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pose-tracker-go/internal/model"
	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/internal/progress"
	"pose-tracker-go/internal/repository"
	"pose-tracker-go/pkg/models"
)

var (
	// ErrUnsupportedFormat расширение файла не из списка разрешенных
	ErrUnsupportedFormat = errors.New("unsupported video format")
	// ErrVideoNotFound видео не найдено
	ErrVideoNotFound = errors.New("video not found")
	// ErrVideoBusy видео уже обрабатывается
	ErrVideoBusy = errors.New("video is being processed")
	// ErrVideoNotReady обработка видео не завершена успешно
	ErrVideoNotReady = errors.New("video processing not completed")
	// ErrNoActiveJob для видео нет активной обработки
	ErrNoActiveJob = errors.New("no active processing job")
)

// AllowedExtensions допустимые расширения загружаемых видео
var AllowedExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

// Options настройки сервиса
type Options struct {
	UploadDir    string
	ProcessedDir string
	// StorageHealth проверяет хранилище; nil означает хранилище в памяти
	StorageHealth func() error
}

// job активная обработка одного видео
type job struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// VideoService управляет загрузкой видео и фоновой обработкой
type VideoService struct {
	repo      repository.VideoRepository
	processor *pipeline.Processor
	progress  *progress.Registry
	opts      Options
	logger    *logrus.Logger

	ctx  context.Context
	stop context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

// NewVideoService создает сервис видео
func NewVideoService(repo repository.VideoRepository, processor *pipeline.Processor, registry *progress.Registry, opts Options, logger *logrus.Logger) *VideoService {
	ctx, stop := context.WithCancel(context.Background())
	return &VideoService{
		repo:      repo,
		processor: processor,
		progress:  registry,
		opts:      opts,
		logger:    logger,
		ctx:       ctx,
		stop:      stop,
		jobs:      make(map[string]*job),
	}
}

// Upload сохраняет исходное видео и запускает его обработку в фоне
func (s *VideoService) Upload(filename string, data io.Reader) (*UploadResponse, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !AllowedExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}

	id := uuid.NewString()
	log := s.logger.WithField("video_id", id)
	log.Infof("Загрузка видео %s", filename)

	originalPath, err := s.saveUpload(id, ext, data)
	if err != nil {
		log.Errorf("Ошибка сохранения видео файла: %v", err)
		return nil, err
	}

	video := &model.Video{
		ID:               id,
		OriginalFilename: filepath.Base(filename),
		OriginalPath:     originalPath,
		ProcessedPath:    filepath.Join(s.opts.ProcessedDir, fmt.Sprintf("%s_processed%s", id, ext)),
		Status:           model.StatusProcessing,
		Parameters:       s.processor.Parameters(),
	}
	if err := s.repo.Create(video); err != nil {
		log.Errorf("Ошибка сохранения видео в хранилище: %v", err)
		os.Remove(originalPath)
		return nil, fmt.Errorf("failed to save video: %w", err)
	}

	j, err := s.reserveJob(id)
	if err != nil {
		return nil, err
	}
	s.progress.Start(id)
	s.launchJob(j, video)

	return &UploadResponse{
		VideoID:     id,
		Status:      model.StatusProcessing,
		ProgressURL: apiPrefix(id) + "/progress",
	}, nil
}

// Reprocess повторно обрабатывает сохраненный оригинал с текущими параметрами
func (s *VideoService) Reprocess(id string) (*UploadResponse, error) {
	video, err := s.getVideo(id)
	if err != nil {
		return nil, err
	}
	// Слот занимается до изменения записи и прогресса
	j, err := s.reserveJob(id)
	if err != nil {
		return nil, err
	}

	video.Status = model.StatusProcessing
	video.Error = ""
	video.CompletedAt = nil
	if err := s.repo.Update(video); err != nil {
		s.releaseJob(id, j)
		return nil, fmt.Errorf("failed to update video: %w", err)
	}

	s.logger.WithField("video_id", id).Info("Повторная обработка видео")
	s.progress.Start(id)
	s.launchJob(j, video)

	return &UploadResponse{
		VideoID:     id,
		Status:      model.StatusProcessing,
		ProgressURL: apiPrefix(id) + "/progress",
	}, nil
}

// GetVideo возвращает запись видео. Прогресс завершенной обработки после этого удаляется.
func (s *VideoService) GetVideo(id string) (*VideoResponse, error) {
	video, err := s.getVideo(id)
	if err != nil {
		return nil, err
	}

	if p, ok := s.progress.Get(id); ok && p.Terminal() && !s.running(id) {
		s.progress.Remove(id)
	}

	resp := toResponse(video)
	return &resp, nil
}

// GetProgress возвращает прогресс обработки видео
func (s *VideoService) GetProgress(id string) (models.Progress, error) {
	p, ok := s.progress.Get(id)
	if !ok {
		return models.Progress{}, ErrVideoNotFound
	}
	return p, nil
}

// Cancel прерывает активную обработку видео
func (s *VideoService) Cancel(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return ErrNoActiveJob
	}

	s.logger.WithField("video_id", id).Info("Отмена обработки видео")
	j.cancel()
	return nil
}

// Delete прерывает обработку и удаляет видео, его файлы и прогресс
func (s *VideoService) Delete(ctx context.Context, id string) error {
	video, err := s.getVideo(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if ok {
		j.cancel()
		select {
		case <-j.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := s.repo.Delete(id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrVideoNotFound
		}
		return fmt.Errorf("failed to delete video: %w", err)
	}

	for _, path := range []string{video.OriginalPath, video.ProcessedPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warnf("Не удалось удалить файл %s: %v", path, err)
		}
	}
	s.progress.Remove(id)

	s.logger.WithField("video_id", id).Info("Видео удалено")
	return nil
}

// List возвращает страницу видео, новые первыми
func (s *VideoService) List(page, size int) (*ListVideosResponse, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	videos, total, err := s.repo.List(page, size)
	if err != nil {
		s.logger.Errorf("Ошибка получения списка видео: %v", err)
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}

	resp := &ListVideosResponse{
		Videos: make([]VideoResponse, 0, len(videos)),
		Total:  total,
		Page:   page,
		Size:   size,
	}
	for _, v := range videos {
		resp.Videos = append(resp.Videos, toResponse(v))
	}
	return resp, nil
}

// OriginalPath путь к исходному файлу
func (s *VideoService) OriginalPath(id string) (string, error) {
	video, err := s.getVideo(id)
	if err != nil {
		return "", err
	}
	return video.OriginalPath, nil
}

// ProcessedPath путь к размеченному видео; доступен только после успешной обработки
func (s *VideoService) ProcessedPath(id string) (string, error) {
	video, err := s.getVideo(id)
	if err != nil {
		return "", err
	}
	if video.Status != model.StatusCompleted {
		return "", ErrVideoNotReady
	}
	return video.ProcessedPath, nil
}

// Shutdown отменяет все обработки и ждет их завершения
func (s *VideoService) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *VideoService) getVideo(id string) (*model.Video, error) {
	video, err := s.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrVideoNotFound
		}
		s.logger.Errorf("Ошибка получения видео %s: %v", id, err)
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return video, nil
}

func (s *VideoService) running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

func (s *VideoService) saveUpload(id, ext string, data io.Reader) (string, error) {
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	if err := os.MkdirAll(s.opts.ProcessedDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create processed directory: %w", err)
	}

	path := filepath.Join(s.opts.UploadDir, fmt.Sprintf("%s_original%s", id, ext))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(dst, data); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

// reserveJob занимает слот обработки видео; ErrVideoBusy если он уже занят
func (s *VideoService) reserveJob(id string) (*job, error) {
	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{ctx: ctx, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		cancel()
		return nil, ErrVideoBusy
	}
	s.jobs[id] = j
	s.wg.Add(1)
	return j, nil
}

// releaseJob освобождает слот, так и не запустив обработку
func (s *VideoService) releaseJob(id string, j *job) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	j.cancel()
	close(j.done)
	s.wg.Done()
}

// launchJob запускает фоновую обработку в занятом слоте
func (s *VideoService) launchJob(j *job, video *model.Video) {
	go func() {
		defer s.wg.Done()
		defer close(j.done)
		defer func() {
			s.mu.Lock()
			delete(s.jobs, video.ID)
			s.mu.Unlock()
			j.cancel()
		}()
		s.runJob(j.ctx, video)
	}()
}

func (s *VideoService) runJob(ctx context.Context, video *model.Video) {
	id := video.ID
	log := s.logger.WithField("video_id", id)

	onProgress := func(e pipeline.Event) {
		if e.FramesProcessed == 0 {
			// Очередь получена: фиксируем параметры, с которыми пойдет обработка
			video.Parameters = s.processor.Parameters()
			s.progress.Update(id, models.StageProcessing, 0, "Processing started")
			return
		}
		s.progress.Update(id, models.StageProcessing, round1(e.Fraction*100), posesMessage(e.PosesDetected, e.FramesProcessed, e.DetectionRate))
	}

	started := time.Now()
	result, err := s.processor.ProcessVideo(ctx, video.OriginalPath, video.ProcessedPath, onProgress)

	now := time.Now()
	video.CompletedAt = &now
	var frames []model.PoseFrame
	switch {
	case err == nil:
		video.Status = model.StatusCompleted
		video.Error = ""
		video.Codec = result.Codec
		info := result.Info
		video.Width, video.Height, video.FPS, video.FrameCount = info.Width, info.Height, info.FPS, info.FrameCount
		video.FramesProcessed = result.Stats.FramesProcessed
		video.PosesDetected = result.Stats.PosesDetected
		video.DetectionRate = round1(result.Stats.DetectionRate() * 100)
		frames = model.NewPoseFrames(id, result.Detections)
	case errors.Is(err, context.Canceled):
		video.Status = model.StatusCanceled
		video.Error = "processing canceled"
	default:
		video.Status = model.StatusFailed
		video.Error = err.Error()
	}

	if saveErr := s.repo.SaveResult(video, frames); saveErr != nil {
		if errors.Is(saveErr, repository.ErrNotFound) {
			log.Info("Видео удалено во время обработки")
			return
		}
		log.Errorf("Ошибка сохранения результата: %v", saveErr)
		s.progress.Update(id, models.StageFailed, 0, "Failed to save result")
		return
	}

	switch video.Status {
	case model.StatusCompleted:
		log.Infof("Обработка завершена за %v: поз найдено %d/%d", time.Since(started).Round(time.Millisecond),
			video.PosesDetected, video.FramesProcessed)
		s.progress.Update(id, models.StageCompleted, 100,
			posesMessage(result.Stats.PosesDetected, result.Stats.FramesProcessed, result.Stats.DetectionRate()))
	case model.StatusCanceled:
		log.Info("Обработка отменена")
		s.progress.Update(id, models.StageCanceled, 0, "Processing canceled")
	default:
		log.Errorf("Обработка завершилась ошибкой: %v", err)
		s.progress.Update(id, models.StageFailed, 0, err.Error())
	}
}

func posesMessage(poses, frames int, rate float64) string {
	return fmt.Sprintf("Poses detected: %d/%d (%.1f%%)", poses, frames, rate*100)
}
