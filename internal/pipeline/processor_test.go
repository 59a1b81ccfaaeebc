package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/internal/pipeline/pipelinetest"
	"pose-tracker-go/internal/pose"
	"pose-tracker-go/pkg/models"
)

func newProcessor(t *testing.T, reader *pipelinetest.Reader, factory *pipelinetest.Factory) *pipeline.Processor {
	t.Helper()
	codecs := &pipelinetest.Codecs{Working: map[string]bool{"avc1": true}}
	p := pipeline.New(pipeline.Config{
		OpenReader: reader.Opener(nil),
		OpenWriter: codecs.Open,
		Annotator:  pipelinetest.CopyAnnotator{},
	}, quietLogger())

	proc, err := pipeline.NewProcessor(p, factory.New, filterParams(), quietLogger())
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	t.Cleanup(func() { proc.Close() })
	return proc
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestNewProcessorRejectsInvalidParameters(t *testing.T) {
	factory := &pipelinetest.Factory{}
	params := models.DefaultParameters()
	params.HistorySize = 0

	_, err := pipeline.NewProcessor(pipeline.New(pipeline.Config{}, quietLogger()), factory.New, params, quietLogger())
	if !errors.Is(err, pose.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}
	if len(factory.Created()) != 0 {
		t.Fatalf("detector created for invalid parameters")
	}
}

func TestProcessVideoThroughProcessor(t *testing.T) {
	factory := &pipelinetest.Factory{Script: lateDetections}
	proc := newProcessor(t, pipelinetest.NewReader(10, 10), factory)

	var events []pipeline.Event
	res, err := proc.ProcessVideo(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"),
		func(e pipeline.Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("ProcessVideo failed: %v", err)
	}
	if res.Stats.PosesDetected != 4 {
		t.Fatalf("poses = %d, want 4", res.Stats.PosesDetected)
	}
	if len(events) != 1 || events[0] != (pipeline.Event{}) {
		t.Fatalf("expected a single start event for a short video, got %+v", events)
	}
}

func TestUpdateFilterOnlyKeepsDetector(t *testing.T) {
	factory := &pipelinetest.Factory{}
	proc := newProcessor(t, pipelinetest.NewReader(1, 1), factory)

	proc.Filter().Evaluate(pipelinetest.FullPose(0.9))
	proc.Filter().Evaluate(pipelinetest.FullPose(0.9))

	got, err := proc.UpdateParameters(context.Background(), models.ParameterPatch{StabilityRatio: floatPtr(0.8)})
	if err != nil {
		t.Fatalf("UpdateParameters failed: %v", err)
	}
	if got.StabilityRatio != 0.8 || proc.Parameters().StabilityRatio != 0.8 {
		t.Fatalf("stability ratio not applied: %+v", got)
	}
	if n := len(factory.Created()); n != 1 {
		t.Fatalf("detector rebuilt %d times for a filter-only change", n-1)
	}
	if h := proc.Filter().History(); len(h) != 0 {
		t.Fatalf("history not reset: %v", h)
	}
}

func TestUpdateWithSameValuesResetsHistory(t *testing.T) {
	factory := &pipelinetest.Factory{}
	proc := newProcessor(t, pipelinetest.NewReader(1, 1), factory)
	proc.Filter().Evaluate(pipelinetest.FullPose(0.9))

	before := proc.Parameters()
	got, err := proc.UpdateParameters(context.Background(), models.ParameterPatch{ModelComplexity: intPtr(before.ModelComplexity)})
	if err != nil {
		t.Fatalf("UpdateParameters failed: %v", err)
	}
	if got != before {
		t.Fatalf("parameters changed: %+v -> %+v", before, got)
	}
	if len(factory.Created()) != 1 || len(proc.Filter().History()) != 0 {
		t.Fatalf("unchanged update must keep detector and clear history")
	}
}

func TestUpdateDetectorOptionsRebuilds(t *testing.T) {
	factory := &pipelinetest.Factory{Script: lateDetections}
	proc := newProcessor(t, pipelinetest.NewReader(10, 10), factory)

	_, err := proc.UpdateParameters(context.Background(), models.ParameterPatch{
		ModelComplexity:        intPtr(2),
		MinDetectionConfidence: floatPtr(0.7),
	})
	if err != nil {
		t.Fatalf("UpdateParameters failed: %v", err)
	}

	created := factory.Created()
	if len(created) != 2 {
		t.Fatalf("expected a rebuilt detector, got %d instances", len(created))
	}
	if !created[0].Closed() {
		t.Fatalf("previous detector not closed")
	}
	want := models.DetectorOptions{MinDetectionConfidence: 0.7, MinTrackingConfidence: 0.3, ModelComplexity: 2}
	if created[1].Options != want {
		t.Fatalf("rebuilt with %+v, want %+v", created[1].Options, want)
	}

	if _, err := proc.ProcessVideo(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"), nil); err != nil {
		t.Fatalf("ProcessVideo failed: %v", err)
	}
	if created[0].Calls() != 0 || created[1].Calls() != 10 {
		t.Fatalf("frames went to the wrong detector: old=%d new=%d", created[0].Calls(), created[1].Calls())
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	t.Run("invalid value", func(t *testing.T) {
		factory := &pipelinetest.Factory{}
		proc := newProcessor(t, pipelinetest.NewReader(1, 1), factory)
		before := proc.Parameters()

		_, err := proc.UpdateParameters(context.Background(), models.ParameterPatch{
			ModelComplexity: intPtr(2),
			HistorySize:     intPtr(-1),
		})
		if !errors.Is(err, pose.ErrInvalidParameters) {
			t.Fatalf("expected ErrInvalidParameters, got %v", err)
		}
		if proc.Parameters() != before || len(factory.Created()) != 1 {
			t.Fatalf("partial update applied")
		}
	})

	t.Run("detector rebuild fails", func(t *testing.T) {
		factory := &pipelinetest.Factory{}
		proc := newProcessor(t, pipelinetest.NewReader(1, 1), factory)
		before := proc.Parameters()

		factory.Fail = errors.New("model file missing")
		_, err := proc.UpdateParameters(context.Background(), models.ParameterPatch{
			ModelComplexity: intPtr(0),
			HistorySize:     intPtr(10),
		})
		if err == nil {
			t.Fatalf("expected rebuild error")
		}
		if proc.Parameters() != before {
			t.Fatalf("parameters changed after failed rebuild: %+v", proc.Parameters())
		}
		if factory.Created()[0].Closed() {
			t.Fatalf("working detector closed after failed rebuild")
		}
	})
}

func TestUpdateWaitsForRunningVideo(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	factory := &pipelinetest.Factory{}
	proc := newProcessor(t, pipelinetest.NewReader(3, 3), factory)

	source := factory.Created()[0]
	source.OnDetect = func(index int) {
		if index == 0 {
			close(entered)
			<-unblock
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := proc.ProcessVideo(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"), nil)
		done <- err
	}()
	<-entered

	// Снимок читается без ожидания
	if proc.Parameters().HistorySize != 3 {
		t.Fatalf("unexpected snapshot during run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := proc.UpdateParameters(ctx, models.ParameterPatch{HistorySize: intPtr(5)}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("update during run should wait, got %v", err)
	}
	if proc.Parameters().HistorySize != 3 {
		t.Fatalf("update applied mid-run")
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("ProcessVideo failed: %v", err)
	}

	got, err := proc.UpdateParameters(context.Background(), models.ParameterPatch{HistorySize: intPtr(5)})
	if err != nil || got.HistorySize != 5 {
		t.Fatalf("update after run: %+v, %v", got, err)
	}
}

func TestProcessorClosed(t *testing.T) {
	factory := &pipelinetest.Factory{}
	proc := newProcessor(t, pipelinetest.NewReader(1, 1), factory)
	if err := proc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !factory.Created()[0].Closed() {
		t.Fatalf("detector not released")
	}

	if _, err := proc.ProcessVideo(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"), nil); !errors.Is(err, pipeline.ErrProcessorClosed) {
		t.Fatalf("expected ErrProcessorClosed, got %v", err)
	}
	if _, err := proc.CheckDetector(context.Background()); !errors.Is(err, pipeline.ErrProcessorClosed) {
		t.Fatalf("expected ErrProcessorClosed, got %v", err)
	}
}

func TestCheckDetectorWithoutHealth(t *testing.T) {
	proc := newProcessor(t, pipelinetest.NewReader(1, 1), &pipelinetest.Factory{})
	if _, err := proc.CheckDetector(context.Background()); !errors.Is(err, pipeline.ErrNoHealthCheck) {
		t.Fatalf("expected ErrNoHealthCheck, got %v", err)
	}
}

func TestShutdownWaitsForRunningVideo(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	factory := &pipelinetest.Factory{}
	proc := newProcessor(t, pipelinetest.NewReader(3, 3), factory)

	source := factory.Created()[0]
	source.OnDetect = func(index int) {
		if index == 0 {
			close(entered)
			<-unblock
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := proc.ProcessVideo(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"), nil)
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := proc.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("shutdown during run should wait, got %v", err)
	}
	if source.Closed() {
		t.Fatalf("detector closed while a video was still using it")
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("ProcessVideo failed: %v", err)
	}
	if source.Calls() != 3 {
		t.Fatalf("detector called %d times, want 3", source.Calls())
	}

	if err := proc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !source.Closed() {
		t.Fatalf("detector not released")
	}
}
