package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"pose-tracker-go/internal/model"
	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/internal/pipeline/pipelinetest"
	"pose-tracker-go/internal/progress"
	"pose-tracker-go/internal/repository"
	"pose-tracker-go/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// lateDetections: кадры 0-4 без позы, 5-9 с уверенной позой
func lateDetections(index int) []models.Landmark {
	if index < 5 {
		return nil
	}
	return pipelinetest.FullPose(0.95)
}

type testEnv struct {
	svc     *VideoService
	factory *pipelinetest.Factory
	opts    Options
}

type envConfig struct {
	frames    int
	readerErr error
	storage   func() error
}

func newTestEnv(t *testing.T, cfg envConfig) *testEnv {
	t.Helper()
	if cfg.frames == 0 {
		cfg.frames = 10
	}

	p := pipeline.New(pipeline.Config{
		OpenReader: func(string) (pipeline.FrameReader, error) {
			if cfg.readerErr != nil {
				return nil, cfg.readerErr
			}
			return pipelinetest.NewReader(cfg.frames, cfg.frames), nil
		},
		OpenWriter: func(path, codec string, info models.VideoInfo) (pipeline.FrameWriter, error) {
			if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
				return nil, err
			}
			return &pipelinetest.Writer{Codec: codec, Info: info, FailAt: -1}, nil
		},
		Annotator: pipelinetest.CopyAnnotator{},
	}, quietLogger())

	params := models.DefaultParameters()
	factory := &pipelinetest.Factory{Script: lateDetections}
	proc, err := pipeline.NewProcessor(p, factory.New, params, quietLogger())
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}

	dir := t.TempDir()
	opts := Options{
		UploadDir:     filepath.Join(dir, "uploads"),
		ProcessedDir:  filepath.Join(dir, "processed"),
		StorageHealth: cfg.storage,
	}
	svc := NewVideoService(repository.NewMemoryRepository(), proc, progress.NewRegistry(), opts, quietLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
		proc.Shutdown(ctx)
	})

	return &testEnv{svc: svc, factory: factory, opts: opts}
}

// blockDetector останавливает детектор на первом кадре до закрытия release
func (e *testEnv) blockDetector() (entered <-chan struct{}, release chan struct{}) {
	in := make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	e.factory.Created()[0].OnDetect = func(index int) {
		if index == 0 {
			once.Do(func() { close(in) })
			<-release
		}
	}
	return in, release
}

func waitStage(t *testing.T, svc *VideoService, id, stage string) models.Progress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p, err := svc.GetProgress(id); err == nil && p.Stage == stage {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	p, err := svc.GetProgress(id)
	t.Fatalf("video %s never reached %s: last %+v, %v", id, stage, p, err)
	return models.Progress{}
}

func upload(t *testing.T, svc *VideoService, name string) string {
	t.Helper()
	resp, err := svc.Upload(name, strings.NewReader("raw video bytes"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	return resp.VideoID
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	for _, name := range []string{"clip.gif", "clip", "clip.mp4.exe"} {
		if _, err := env.svc.Upload(name, strings.NewReader("x")); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("%s: expected ErrUnsupportedFormat, got %v", name, err)
		}
	}
	if entries, _ := os.ReadDir(env.opts.UploadDir); len(entries) != 0 {
		t.Fatalf("rejected upload left files: %v", entries)
	}
}

func TestUploadProcessesVideo(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	resp, err := env.svc.Upload("Jump.MP4", strings.NewReader("raw video bytes"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	id := resp.VideoID
	if resp.ProgressURL != "/api/v1/videos/"+id+"/progress" || resp.Status != model.StatusProcessing {
		t.Fatalf("upload response = %+v", resp)
	}

	original := filepath.Join(env.opts.UploadDir, id+"_original.mp4")
	if data, err := os.ReadFile(original); err != nil || string(data) != "raw video bytes" {
		t.Fatalf("original not stored at %s: %v", original, err)
	}

	p := waitStage(t, env.svc, id, models.StageCompleted)
	if p.Progress != 100 || p.Message != "Poses detected: 4/10 (40.0%)" {
		t.Fatalf("final progress = %+v", p)
	}

	video, err := env.svc.GetVideo(id)
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if video.Status != model.StatusCompleted || video.PosesDetected != 4 || video.DetectionRate != 40 || video.Codec != "avc1" {
		t.Fatalf("video = %+v", video)
	}
	if video.ProcessedURL == "" || video.Info.Width != 64 {
		t.Fatalf("video = %+v", video)
	}

	// Результат доставлен, запись прогресса больше не нужна
	if _, err := env.svc.GetProgress(id); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("progress kept after delivery: %v", err)
	}

	path, err := env.svc.ProcessedPath(id)
	if err != nil || path != filepath.Join(env.opts.ProcessedDir, id+"_processed.mp4") {
		t.Fatalf("ProcessedPath = %s, %v", path, err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("processed file missing: %v", err)
	}
}

func TestAnalyze(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	id := upload(t, env.svc, "clip.avi")
	waitStage(t, env.svc, id, models.StageCompleted)

	analysis, err := env.svc.Analyze(id)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	s := analysis.Summary
	if s.FramesProcessed != 10 || s.PosesDetected != 4 || s.DetectionRate != 40 || s.LastFrameIndex != 9 {
		t.Fatalf("summary = %+v", s)
	}
	if s.AverageConfidence != 0.95 || s.KeyPointVisibility["left_knee"] != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if analysis.Parameters != models.DefaultParameters() {
		t.Fatalf("parameter snapshot = %+v", analysis.Parameters)
	}

	if _, err := env.svc.Analyze("missing"); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("expected ErrVideoNotFound, got %v", err)
	}
}

func TestBusyVideoAndCancel(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	entered, release := env.blockDetector()

	id := upload(t, env.svc, "clip.mov")
	<-entered

	if p, _ := env.svc.GetProgress(id); p.Stage != models.StageProcessing {
		t.Fatalf("stage while running = %+v", p)
	}
	if _, err := env.svc.Reprocess(id); !errors.Is(err, ErrVideoBusy) {
		t.Fatalf("expected ErrVideoBusy, got %v", err)
	}
	if p, _ := env.svc.GetProgress(id); p.Stage != models.StageProcessing {
		t.Fatalf("busy reprocess touched progress: %+v", p)
	}
	if _, err := env.svc.Analyze(id); !errors.Is(err, ErrVideoNotReady) {
		t.Fatalf("expected ErrVideoNotReady, got %v", err)
	}
	if _, err := env.svc.ProcessedPath(id); !errors.Is(err, ErrVideoNotReady) {
		t.Fatalf("expected ErrVideoNotReady, got %v", err)
	}

	if err := env.svc.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	close(release)
	waitStage(t, env.svc, id, models.StageCanceled)

	video, _ := env.svc.GetVideo(id)
	if video.Status != model.StatusCanceled {
		t.Fatalf("status = %s", video.Status)
	}
	if _, err := os.Stat(filepath.Join(env.opts.ProcessedDir, id+"_processed.mov")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial output kept after cancel")
	}
	if err := env.svc.Cancel(id); !errors.Is(err, ErrNoActiveJob) {
		t.Fatalf("expected ErrNoActiveJob, got %v", err)
	}
}

func TestSecondUploadWaitsInQueue(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	entered, release := env.blockDetector()

	first := upload(t, env.svc, "a.mp4")
	<-entered
	second := upload(t, env.svc, "b.mp4")

	time.Sleep(20 * time.Millisecond)
	if p, _ := env.svc.GetProgress(second); p.Stage != models.StageQueued {
		t.Fatalf("second video stage = %+v, want queued", p)
	}

	close(release)
	waitStage(t, env.svc, first, models.StageCompleted)
	waitStage(t, env.svc, second, models.StageCompleted)
}

func TestReprocessUsesCurrentParameters(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	id := upload(t, env.svc, "clip.mkv")
	waitStage(t, env.svc, id, models.StageCompleted)

	ratio := 0.9
	if _, err := env.svc.UpdateParameters(context.Background(), models.ParameterPatch{StabilityRatio: &ratio}); err != nil {
		t.Fatalf("UpdateParameters failed: %v", err)
	}
	if _, err := env.svc.Reprocess(id); err != nil {
		t.Fatalf("Reprocess failed: %v", err)
	}
	waitStage(t, env.svc, id, models.StageCompleted)

	analysis, err := env.svc.Analyze(id)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if analysis.Summary.PosesDetected != 3 || analysis.Parameters.StabilityRatio != 0.9 {
		t.Fatalf("reprocessed summary = %+v, params = %+v", analysis.Summary, analysis.Parameters)
	}

	if _, err := env.svc.Reprocess("missing"); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("expected ErrVideoNotFound, got %v", err)
	}
}

func TestProcessingFailure(t *testing.T) {
	env := newTestEnv(t, envConfig{readerErr: errors.New("moov atom not found")})
	id := upload(t, env.svc, "broken.mp4")

	p := waitStage(t, env.svc, id, models.StageFailed)
	if !strings.Contains(p.Message, "moov atom not found") {
		t.Fatalf("failure message = %q", p.Message)
	}

	video, _ := env.svc.GetVideo(id)
	if video.Status != model.StatusFailed || video.Error == "" || video.ProcessedURL != "" {
		t.Fatalf("video = %+v", video)
	}
	if _, err := env.svc.Analyze(id); !errors.Is(err, ErrVideoNotReady) {
		t.Fatalf("expected ErrVideoNotReady, got %v", err)
	}
}

func TestDeleteVideo(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	entered, release := env.blockDetector()

	id := upload(t, env.svc, "clip.mp4")
	<-entered

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	if err := env.svc.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := env.svc.GetVideo(id); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("video still present: %v", err)
	}
	if _, err := env.svc.GetProgress(id); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("progress still present: %v", err)
	}
	if entries, _ := os.ReadDir(env.opts.UploadDir); len(entries) != 0 {
		t.Fatalf("upload dir not cleaned: %v", entries)
	}
	if err := env.svc.Delete(context.Background(), id); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("expected ErrVideoNotFound, got %v", err)
	}
}

func TestShutdownCancelsJobs(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	entered, release := env.blockDetector()

	id := upload(t, env.svc, "clip.mp4")
	<-entered

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- env.svc.Shutdown(ctx)
	}()
	// Детектор отпускаем только после отмены контекста сервиса
	<-env.svc.ctx.Done()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if p, _ := env.svc.GetProgress(id); p.Stage != models.StageCanceled {
		t.Fatalf("stage after shutdown = %+v", p)
	}
}

func TestConcurrentReprocessStartsOneJob(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	id := upload(t, env.svc, "clip.mp4")
	waitStage(t, env.svc, id, models.StageCompleted)
	completed, err := env.svc.repo.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	entered, release := env.blockDetector()

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		busy     int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Reprocess(id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrVideoBusy):
				busy++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 || busy != callers-1 {
		t.Fatalf("accepted=%d busy=%d, want 1 and %d", accepted, busy, callers-1)
	}

	<-entered
	if p, _ := env.svc.GetProgress(id); p.Stage != models.StageProcessing {
		t.Fatalf("stage while running = %+v", p)
	}
	close(release)

	waitStage(t, env.svc, id, models.StageCompleted)
	video, err := env.svc.repo.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if video.CompletedAt == nil || video.CompletedAt.Before(*completed.CompletedAt) {
		t.Fatalf("completed_at = %v, first run %v", video.CompletedAt, completed.CompletedAt)
	}
}

func TestList(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		waitStage(t, env.svc, upload(t, env.svc, name), models.StageCompleted)
	}

	resp, err := env.svc.List(1, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if resp.Total != 3 || len(resp.Videos) != 2 || resp.Page != 1 || resp.Size != 2 {
		t.Fatalf("list = %+v", resp)
	}

	resp, _ = env.svc.List(0, 1000)
	if resp.Page != 1 || resp.Size != 20 || len(resp.Videos) != 3 {
		t.Fatalf("defaults not applied: page=%d size=%d n=%d", resp.Page, resp.Size, len(resp.Videos))
	}
}

func TestCheckHealth(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	if h := env.svc.CheckHealth(context.Background()); !h.Healthy() || h.Storage != "memory" {
		t.Fatalf("health = %+v", h)
	}

	env = newTestEnv(t, envConfig{storage: func() error { return errors.New("connection refused") }})
	h := env.svc.CheckHealth(context.Background())
	if h.Healthy() || h.Storage != "connection refused" {
		t.Fatalf("health = %+v", h)
	}
}
