// Package video реализует чтение, запись и разметку кадров поверх OpenCV (gocv).
package video

import (
	"fmt"

	"gocv.io/x/gocv"

	"pose-tracker-go/internal/pipeline"
)

// MatFrame кадр в формате BGR
type MatFrame struct {
	Mat gocv.Mat
}

// NewMatFrame оборачивает mat; владение переходит к кадру
func NewMatFrame(mat gocv.Mat) *MatFrame {
	return &MatFrame{Mat: mat}
}

func (f *MatFrame) Width() int  { return f.Mat.Cols() }
func (f *MatFrame) Height() int { return f.Mat.Rows() }

func (f *MatFrame) Clone() pipeline.Frame {
	return &MatFrame{Mat: f.Mat.Clone()}
}

// JPEG кодирует кадр для отправки детектору
func (f *MatFrame) JPEG(quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, f.Mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	// Буфер живет в памяти OpenCV, копируем до Close
	data := buf.GetBytes()
	return append([]byte(nil), data...), nil
}

func (f *MatFrame) Close() error {
	return f.Mat.Close()
}

func asMat(frame pipeline.Frame) (*MatFrame, error) {
	f, ok := frame.(*MatFrame)
	if !ok {
		return nil, fmt.Errorf("unsupported frame type %T", frame)
	}
	return f, nil
}
