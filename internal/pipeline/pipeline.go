// Package pipeline прогоняет видео покадрово: детектор -> фильтр стабильности ->
// отрисовка -> запись, с подбором кодека и отчетами о прогрессе.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"pose-tracker-go/internal/pose"
	"pose-tracker-go/pkg/models"
)

var (
	// ErrInputUnreadable исходное видео не удалось открыть
	ErrInputUnreadable = errors.New("input video unreadable")
	// ErrOutputUnwritable ни один кодек не дал рабочий writer, либо запись оборвалась
	ErrOutputUnwritable = errors.New("output video unwritable")
	// ErrDetectorUnavailable детектор подряд не ответил слишком много раз
	ErrDetectorUnavailable = errors.New("landmark detector unavailable")
)

// DefaultCodecs порядок предпочтения кодеков для выходного видео
var DefaultCodecs = []string{"avc1", "XVID", "mp4v"}

const (
	// DefaultProgressInterval как часто (в кадрах) отправляется прогресс
	DefaultProgressInterval = 50
	// DefaultMaxDetectorErrors допустимое число ошибок детектора подряд
	DefaultMaxDetectorErrors = 25
)

// Frame кадр видео. Владелец обязан вызвать Close.
type Frame interface {
	Width() int
	Height() int
	Clone() Frame
	JPEG(quality int) ([]byte, error)
	Close() error
}

// FrameReader последовательный источник кадров. Read возвращает io.EOF в конце потока.
type FrameReader interface {
	Info() models.VideoInfo
	Read() (Frame, error)
	Close() error
}

// FrameWriter выходной поток кадров
type FrameWriter interface {
	Write(frame Frame) error
	Close() error
}

// ReaderOpener открывает исходное видео
type ReaderOpener func(path string) (FrameReader, error)

// WriterOpener открывает выходное видео с конкретным кодеком
type WriterOpener func(path, codec string, info models.VideoInfo) (FrameWriter, error)

// LandmarkSource внешний детектор позы
type LandmarkSource interface {
	// Detect возвращает точки позы или nil, если поза не найдена
	Detect(ctx context.Context, frame Frame) ([]models.Landmark, error)
	Close() error
}

// HealthChecker детектор, умеющий сообщать о своем состоянии
type HealthChecker interface {
	CheckHealth(ctx context.Context) (*models.HealthResponse, error)
}

// SourceFactory создает детектор с заданными параметрами
type SourceFactory func(opts models.DetectorOptions) (LandmarkSource, error)

// Annotator рисует позу на копии кадра
type Annotator interface {
	// Annotate никогда не меняет входной кадр. При stable == nil возвращает
	// неизмененную копию и nil вместо записей.
	Annotate(frame Frame, stable []models.Landmark) (Frame, []models.Landmark, error)
}

// Event снимок прогресса обработки
type Event struct {
	FramesProcessed int     `json:"frames_processed"`
	TotalFrames     int     `json:"total_frames"`
	Fraction        float64 `json:"fraction"` // Может превышать 1.0, если метаданные занижают число кадров
	PosesDetected   int     `json:"poses_detected"`
	DetectionRate   float64 `json:"detection_rate"`
}

// ProgressFunc получатель событий прогресса
type ProgressFunc func(Event)

// Result итог одного прохода
type Result struct {
	Info       models.VideoInfo        `json:"info"`
	Codec      string                  `json:"codec"`
	Stats      models.VideoStats       `json:"stats"`
	Detections []models.FrameLandmarks `json:"detections"`
}

// Config настройки конвейера
type Config struct {
	OpenReader        ReaderOpener
	OpenWriter        WriterOpener
	Annotator         Annotator
	Codecs            []string
	ProgressInterval  int
	MaxDetectorErrors int
}

// Pipeline прогоняет одно видео за вызов; собственного состояния между вызовами не хранит
type Pipeline struct {
	openReader        ReaderOpener
	openWriter        WriterOpener
	annotator         Annotator
	codecs            []string
	progressInterval  int
	maxDetectorErrors int
	logger            *logrus.Logger
}

// New создает конвейер
func New(cfg Config, logger *logrus.Logger) *Pipeline {
	codecs := cfg.Codecs
	if len(codecs) == 0 {
		codecs = DefaultCodecs
	}
	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	maxErrors := cfg.MaxDetectorErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxDetectorErrors
	}

	return &Pipeline{
		openReader:        cfg.OpenReader,
		openWriter:        cfg.OpenWriter,
		annotator:         cfg.Annotator,
		codecs:            append([]string(nil), codecs...),
		progressInterval:  interval,
		maxDetectorErrors: maxErrors,
		logger:            logger,
	}
}

// Run обрабатывает видео input и записывает размеченное видео в output.
// Успех означает err == nil. При отмене ctx или ошибке частичный output удаляется.
func (p *Pipeline) Run(ctx context.Context, input, output string, source LandmarkSource, filter *pose.StabilityFilter, onProgress ProgressFunc) (*Result, error) {
	log := p.logger.WithFields(logrus.Fields{"input": input, "output": output})

	filter.Reset()

	reader, err := p.openReader(input)
	if err != nil {
		log.Errorf("Не удалось открыть исходное видео: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrInputUnreadable, err)
	}
	defer reader.Close()

	info := reader.Info()
	log.Infof("Видео %dx%d, %.2f fps, %d кадров по метаданным", info.Width, info.Height, info.FPS, info.FrameCount)

	writer, codec, err := p.negotiateWriter(output, info, log)
	if err != nil {
		return nil, err
	}
	w := &onceWriter{FrameWriter: writer}
	defer w.Close()

	result := &Result{Info: info, Codec: codec}
	failed := true
	defer func() {
		if failed {
			w.Close()
			if rmErr := os.Remove(output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Warnf("Не удалось удалить частичный файл: %v", rmErr)
			}
		}
	}()

	detectorErrors := 0
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			log.Infof("Обработка прервана на кадре %d", index)
			return nil, err
		}

		frame, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Битый кадр в середине потока завершает проход, записанное сохраняется
			log.Warnf("Ошибка декодирования кадра %d, считаем поток завершенным: %v", index, err)
			break
		}

		annotated, records, err := p.processFrame(ctx, log, frame, source, filter, &detectorErrors)
		frame.Close()
		if err != nil {
			return nil, err
		}

		werr := w.Write(annotated)
		annotated.Close()
		if werr != nil {
			log.Errorf("Ошибка записи кадра %d: %v", index, werr)
			return nil, fmt.Errorf("%w: write frame %d: %v", ErrOutputUnwritable, index, werr)
		}

		result.Stats.FramesProcessed++
		if records != nil {
			result.Stats.PosesDetected++
			result.Detections = append(result.Detections, models.FrameLandmarks{FrameIndex: index, Landmarks: records})
		}

		if result.Stats.FramesProcessed%p.progressInterval == 0 {
			event := newEvent(result.Stats, info.FrameCount)
			log.Debugf("Обработка: %.1f%% - поз найдено: %d/%d (%.1f%%)",
				event.Fraction*100, event.PosesDetected, event.FramesProcessed, event.DetectionRate*100)
			if onProgress != nil {
				onProgress(event)
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: finalize: %v", ErrOutputUnwritable, err)
	}
	failed = false

	log.Infof("Готово: поз найдено %d/%d (%.1f%%)",
		result.Stats.PosesDetected, result.Stats.FramesProcessed, result.Stats.DetectionRate()*100)
	return result, nil
}

// processFrame детектор -> фильтр -> отрисовка для одного кадра
func (p *Pipeline) processFrame(ctx context.Context, log *logrus.Entry, frame Frame, source LandmarkSource, filter *pose.StabilityFilter, detectorErrors *int) (Frame, []models.Landmark, error) {
	landmarks, err := source.Detect(ctx, frame)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		*detectorErrors++
		log.Warnf("Детектор не обработал кадр (%d подряд): %v", *detectorErrors, err)
		if *detectorErrors >= p.maxDetectorErrors {
			return nil, nil, fmt.Errorf("%w: %d consecutive failures: %v", ErrDetectorUnavailable, *detectorErrors, err)
		}
		landmarks = nil
	} else {
		*detectorErrors = 0
	}

	var stable []models.Landmark
	if filter.Evaluate(landmarks) && len(landmarks) > 0 {
		stable = landmarks
	}

	annotated, records, err := p.annotator.Annotate(frame, stable)
	if err != nil {
		return nil, nil, fmt.Errorf("annotate frame: %w", err)
	}
	return annotated, records, nil
}

// negotiateWriter перебирает кодеки по порядку до первого рабочего
func (p *Pipeline) negotiateWriter(output string, info models.VideoInfo, log *logrus.Entry) (FrameWriter, string, error) {
	var lastErr error
	for _, codec := range p.codecs {
		writer, err := p.openWriter(output, codec, info)
		if err == nil {
			log.Infof("Выходное видео открыто с кодеком %s", codec)
			return writer, codec, nil
		}
		lastErr = err
		log.Warnf("Кодек %s недоступен, пробуем следующий: %v", codec, err)
	}

	if rmErr := os.Remove(output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		log.Warnf("Не удалось удалить файл после неудачных попыток: %v", rmErr)
	}
	log.Errorf("Ни один кодек не подошел: %v", p.codecs)
	return nil, "", fmt.Errorf("%w: tried %v: %v", ErrOutputUnwritable, p.codecs, lastErr)
}

func newEvent(stats models.VideoStats, total int) Event {
	event := Event{
		FramesProcessed: stats.FramesProcessed,
		TotalFrames:     total,
		PosesDetected:   stats.PosesDetected,
		DetectionRate:   stats.DetectionRate(),
	}
	if total > 0 {
		event.Fraction = float64(stats.FramesProcessed) / float64(total)
	}
	return event
}

// onceWriter закрывает writer ровно один раз
type onceWriter struct {
	FrameWriter
	closed bool
	err    error
}

func (w *onceWriter) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	w.err = w.FrameWriter.Close()
	return w.err
}
