package video

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"pose-tracker-go/internal/pipeline"
	"pose-tracker-go/internal/pose"
	"pose-tracker-go/pkg/models"
)

// Линии скелета синие, точки зеленые
var (
	connectionColor = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	landmarkColor   = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

const (
	connectionThickness = 3
	landmarkRadius      = 4
	landmarkThickness   = 4
)

// Annotator рисует скелет стабильной позы
type Annotator struct{}

// NewAnnotator создает аннотатор
func NewAnnotator() *Annotator {
	return &Annotator{}
}

// Annotate рисует позу на копии кадра и возвращает копию точек для сохранения.
// Точки с низкой видимостью или за пределами кадра не рисуются.
func (a *Annotator) Annotate(frame pipeline.Frame, stable []models.Landmark) (pipeline.Frame, []models.Landmark, error) {
	src, err := asMat(frame)
	if err != nil {
		return nil, nil, err
	}

	out := &MatFrame{Mat: src.Mat.Clone()}
	if stable == nil {
		return out, nil, nil
	}

	w, h := out.Width(), out.Height()
	point := func(i int) (image.Point, bool) {
		if i >= len(stable) {
			return image.Point{}, false
		}
		lm := stable[i]
		if lm.Visibility < pose.DrawVisibility || lm.X < 0 || lm.X > 1 || lm.Y < 0 || lm.Y > 1 {
			return image.Point{}, false
		}
		return image.Pt(int(lm.X*float64(w)), int(lm.Y*float64(h))), true
	}

	for _, c := range pose.Connections {
		p1, ok1 := point(c[0])
		p2, ok2 := point(c[1])
		if ok1 && ok2 {
			gocv.Line(&out.Mat, p1, p2, connectionColor, connectionThickness)
		}
	}
	for i := range stable {
		if p, ok := point(i); ok {
			gocv.Circle(&out.Mat, p, landmarkRadius, landmarkColor, landmarkThickness)
		}
	}

	return out, append([]models.Landmark(nil), stable...), nil
}
