// Package pipelinetest предоставляет подделки кадров, потоков и детектора
// для тестов конвейера без OpenCV.
package pipelinetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/pkg/models"
)

// ErrDecode ошибка декодирования, которую Reader возвращает на FailAt
var ErrDecode = errors.New("pipelinetest: corrupt frame")

// Frame кадр в памяти
type Frame struct {
	Index   int
	W, H    int
	Overlay bool
	closed  bool
}

func (f *Frame) Width() int  { return f.W }
func (f *Frame) Height() int { return f.H }

func (f *Frame) Clone() pipeline.Frame {
	c := *f
	c.closed = false
	return &c
}

func (f *Frame) JPEG(int) ([]byte, error) {
	return []byte(fmt.Sprintf("frame-%d", f.Index)), nil
}

func (f *Frame) Close() error {
	f.closed = true
	return nil
}

// Closed сообщает, был ли кадр закрыт
func (f *Frame) Closed() bool { return f.closed }

// Reader отдает Frames кадров, затем io.EOF
type Reader struct {
	VideoInfo models.VideoInfo
	Frames    int
	FailAt    int // Индекс кадра с ошибкой декодирования; <0 выключено

	next   int
	closed bool
}

// NewReader создает источник из n кадров 64x48
func NewReader(n, metadataFrames int) *Reader {
	return &Reader{
		VideoInfo: models.VideoInfo{Width: 64, Height: 48, FPS: 30, FrameCount: metadataFrames},
		Frames:    n,
		FailAt:    -1,
	}
}

func (r *Reader) Info() models.VideoInfo { return r.VideoInfo }

func (r *Reader) Read() (pipeline.Frame, error) {
	if r.next == r.FailAt {
		r.next++
		return nil, ErrDecode
	}
	if r.next >= r.Frames {
		return nil, io.EOF
	}
	f := &Frame{Index: r.next, W: r.VideoInfo.Width, H: r.VideoInfo.Height}
	r.next++
	return f, nil
}

func (r *Reader) Close() error {
	r.closed = true
	return nil
}

// Closed сообщает, был ли источник закрыт
func (r *Reader) Closed() bool { return r.closed }

// Opener возвращает заранее созданный Reader или ошибку
func (r *Reader) Opener(err error) pipeline.ReaderOpener {
	return func(string) (pipeline.FrameReader, error) {
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Writer запоминает записанные кадры
type Writer struct {
	Codec   string
	Info    models.VideoInfo
	Indices []int
	Overlay []bool
	FailAt  int // Номер записи с ошибкой; <0 выключено

	closes int
}

func (w *Writer) Write(frame pipeline.Frame) error {
	if len(w.Indices) == w.FailAt {
		return errors.New("pipelinetest: disk full")
	}
	f, ok := frame.(*Frame)
	if !ok {
		return fmt.Errorf("pipelinetest: unexpected frame type %T", frame)
	}
	w.Indices = append(w.Indices, f.Index)
	w.Overlay = append(w.Overlay, f.Overlay)
	return nil
}

func (w *Writer) Close() error {
	w.closes++
	return nil
}

// Closes сколько раз был вызван Close
func (w *Writer) Closes() int { return w.closes }

// Codecs открывает Writer только для кодеков из Working и запоминает попытки
type Codecs struct {
	Working map[string]bool
	Tried   []string
	Writer  *Writer
}

// Open реализует pipeline.WriterOpener
func (c *Codecs) Open(path, codec string, info models.VideoInfo) (pipeline.FrameWriter, error) {
	c.Tried = append(c.Tried, codec)
	if !c.Working[codec] {
		return nil, fmt.Errorf("codec %s not available", codec)
	}
	c.Writer = &Writer{Codec: codec, Info: info, FailAt: -1}
	return c.Writer, nil
}

// Source детектор по сценарию: Script(i) задает точки для кадра i
type Source struct {
	Options models.DetectorOptions
	Script  func(index int) []models.Landmark
	Err     func(index int) error
	// OnDetect вызывается перед ответом на каждый кадр
	OnDetect func(index int)

	mu     sync.Mutex
	calls  int
	closed bool
}

func (s *Source) Detect(ctx context.Context, frame pipeline.Frame) ([]models.Landmark, error) {
	f, ok := frame.(*Frame)
	if !ok {
		return nil, fmt.Errorf("pipelinetest: unexpected frame type %T", frame)
	}

	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.OnDetect != nil {
		s.OnDetect(f.Index)
	}
	if s.Err != nil {
		if err := s.Err(f.Index); err != nil {
			return nil, err
		}
	}
	if s.Script == nil {
		return nil, nil
	}
	return s.Script(f.Index), nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Calls число вызовов Detect
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Closed сообщает, был ли детектор закрыт
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Factory создает Source с общим сценарием и запоминает созданные экземпляры
type Factory struct {
	Script func(index int) []models.Landmark
	Fail   error

	mu      sync.Mutex
	created []*Source
}

// New реализует pipeline.SourceFactory
func (f *Factory) New(opts models.DetectorOptions) (pipeline.LandmarkSource, error) {
	if f.Fail != nil {
		return nil, f.Fail
	}
	s := &Source{Options: opts, Script: f.Script}
	f.mu.Lock()
	f.created = append(f.created, s)
	f.mu.Unlock()
	return s, nil
}

// Created возвращает созданные детекторы по порядку
func (f *Factory) Created() []*Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Source(nil), f.created...)
}

// CopyAnnotator копирует кадр и отмечает наложение вместо рисования
type CopyAnnotator struct{}

func (CopyAnnotator) Annotate(frame pipeline.Frame, stable []models.Landmark) (pipeline.Frame, []models.Landmark, error) {
	out := frame.Clone()
	if stable == nil {
		return out, nil, nil
	}
	if f, ok := out.(*Frame); ok {
		f.Overlay = true
	}
	return out, append([]models.Landmark(nil), stable...), nil
}

// FullPose 33 точки с одинаковой видимостью
func FullPose(visibility float64) []models.Landmark {
	lms := make([]models.Landmark, 33)
	for i := range lms {
		lms[i] = models.Landmark{X: 0.5, Y: 0.5, Visibility: visibility}
	}
	return lms
}
