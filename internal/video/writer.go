package video

import (
	"fmt"

	"gocv.io/x/gocv"

	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/pkg/models"
)

// defaultFPS используется, если в метаданных частота кадров отсутствует
const defaultFPS = 30.0

// Writer записывает кадры в видеофайл
type Writer struct {
	vw *gocv.VideoWriter
}

// OpenWriter открывает выходной файл с кодеком codec. Реализует pipeline.WriterOpener.
// Ошибка возвращается и тогда, когда OpenCV создал объект, но кодек не заработал.
func OpenWriter(path, codec string, info models.VideoInfo) (pipeline.FrameWriter, error) {
	fps := info.FPS
	if fps <= 0 {
		fps = defaultFPS
	}

	vw, err := gocv.VideoWriterFile(path, codec, fps, info.Width, info.Height, true)
	if err != nil {
		return nil, fmt.Errorf("codec %s: %w", codec, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("codec %s: writer not opened", codec)
	}
	return &Writer{vw: vw}, nil
}

func (w *Writer) Write(frame pipeline.Frame) error {
	f, err := asMat(frame)
	if err != nil {
		return err
	}
	return w.vw.Write(f.Mat)
}

func (w *Writer) Close() error {
	return w.vw.Close()
}
