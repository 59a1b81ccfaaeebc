package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"pose-tracker-go/internal/pose"
	"pose-tracker-go/pkg/models"
)

var (
	// ErrNoHealthCheck детектор не поддерживает проверку состояния
	ErrNoHealthCheck = errors.New("landmark source has no health check")
	// ErrProcessorClosed детектор уже освобожден
	ErrProcessorClosed = errors.New("processor closed")
)

// Processor хранит параметры, текущий детектор и фильтр стабильности.
// Проходы по видео и обновления параметров выполняются строго по очереди.
type Processor struct {
	pipeline *Pipeline
	factory  SourceFactory
	logger   *logrus.Logger

	// slot занят на время прохода по видео или обновления параметров
	slot chan struct{}

	mu     sync.RWMutex
	params models.Parameters
	source LandmarkSource
	filter *pose.StabilityFilter
}

// NewProcessor проверяет параметры и создает первый детектор
func NewProcessor(p *Pipeline, factory SourceFactory, params models.Parameters, logger *logrus.Logger) (*Processor, error) {
	if err := pose.ValidateParameters(params); err != nil {
		return nil, err
	}

	source, err := factory(params.DetectorOptions())
	if err != nil {
		return nil, fmt.Errorf("create landmark source: %w", err)
	}

	return &Processor{
		pipeline: p,
		factory:  factory,
		logger:   logger,
		slot:     make(chan struct{}, 1),
		params:   params,
		source:   source,
		filter:   pose.NewStabilityFilter(params),
	}, nil
}

// Parameters возвращает снимок текущих параметров, не дожидаясь активного прохода
func (p *Processor) Parameters() models.Parameters {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.params
}

// UpdateParameters применяет частичное обновление целиком или не применяет вовсе.
// Ждет окончания активного прохода. История фильтра сбрасывается всегда.
func (p *Processor) UpdateParameters(ctx context.Context, patch models.ParameterPatch) (models.Parameters, error) {
	if err := p.acquire(ctx); err != nil {
		return models.Parameters{}, err
	}
	defer p.release()

	current := p.Parameters()
	next := current.Apply(patch)
	if err := pose.ValidateParameters(next); err != nil {
		p.logger.Warnf("Отклонено обновление параметров: %v", err)
		return current, err
	}

	var rebuilt LandmarkSource
	if next.DetectorOptions() != current.DetectorOptions() {
		source, err := p.factory(next.DetectorOptions())
		if err != nil {
			p.logger.Errorf("Не удалось пересоздать детектор: %v", err)
			return current, fmt.Errorf("rebuild landmark source: %w", err)
		}
		rebuilt = source
	}

	p.mu.Lock()
	old := p.source
	if old == nil {
		p.mu.Unlock()
		if rebuilt != nil {
			rebuilt.Close()
		}
		return current, ErrProcessorClosed
	}
	p.params = next
	if rebuilt != nil {
		p.source = rebuilt
	}
	p.filter.Configure(next)
	p.filter.Reset()
	p.mu.Unlock()

	if rebuilt != nil {
		p.logger.Infof("Детектор пересоздан: %+v", next.DetectorOptions())
		if err := old.Close(); err != nil {
			p.logger.Warnf("Ошибка закрытия старого детектора: %v", err)
		}
	}
	p.logger.Infof("Параметры обновлены: %+v", next)
	return next, nil
}

// ProcessVideo занимает очередь и прогоняет одно видео текущим детектором.
// Как только очередь получена, onProgress получает нулевое событие.
func (p *Processor) ProcessVideo(ctx context.Context, input, output string, onProgress ProgressFunc) (*Result, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	p.mu.RLock()
	source, filter := p.source, p.filter
	p.mu.RUnlock()
	if source == nil {
		return nil, ErrProcessorClosed
	}
	if onProgress != nil {
		onProgress(Event{})
	}

	return p.pipeline.Run(ctx, input, output, source, filter, onProgress)
}

// CheckDetector проверяет состояние текущего детектора
func (p *Processor) CheckDetector(ctx context.Context) (*models.HealthResponse, error) {
	p.mu.RLock()
	source := p.source
	p.mu.RUnlock()

	if source == nil {
		return nil, ErrProcessorClosed
	}
	checker, ok := source.(HealthChecker)
	if !ok {
		return nil, ErrNoHealthCheck
	}
	return checker.CheckHealth(ctx)
}

// Close освобождает текущий детектор, дождавшись окончания активного прохода
func (p *Processor) Close() error {
	return p.Shutdown(context.Background())
}

// Shutdown ждет окончания активного прохода не дольше ctx и освобождает детектор.
// Если ctx истек раньше, детектор остается открытым.
func (p *Processor) Shutdown(ctx context.Context) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.source == nil {
		return nil
	}
	err := p.source.Close()
	p.source = nil
	return err
}

func (p *Processor) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) release() {
	<-p.slot
}
