package video

import (
	"fmt"
	"io"

	"gocv.io/x/gocv"

	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/pkg/models"
)

// Capture последовательно читает кадры из файла
type Capture struct {
	vc   *gocv.VideoCapture
	info models.VideoInfo
}

// OpenCapture открывает видеофайл. Реализует pipeline.ReaderOpener.
func OpenCapture(path string) (pipeline.FrameReader, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open %s: capture not opened", path)
	}

	info := models.VideoInfo{
		Width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        vc.Get(gocv.VideoCaptureFPS),
		FrameCount: int(vc.Get(gocv.VideoCaptureFrameCount)),
	}
	if info.FrameCount < 0 {
		info.FrameCount = 0
	}

	return &Capture{vc: vc, info: info}, nil
}

// ProbeInfo читает свойства видео без декодирования кадров
func ProbeInfo(path string) (models.VideoInfo, error) {
	reader, err := OpenCapture(path)
	if err != nil {
		return models.VideoInfo{}, err
	}
	defer reader.Close()
	return reader.Info(), nil
}

func (c *Capture) Info() models.VideoInfo { return c.info }

// Read возвращает следующий кадр; io.EOF когда кадры закончились
func (c *Capture) Read() (pipeline.Frame, error) {
	mat := gocv.NewMat()
	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, io.EOF
	}
	return NewMatFrame(mat), nil
}

func (c *Capture) Close() error {
	return c.vc.Close()
}
