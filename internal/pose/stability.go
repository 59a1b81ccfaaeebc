package pose

import "pose-tracker-go/pkg/models"

// minHistory меньше этого числа кадров решение не принимается
const minHistory = 2

// StabilityFilter сглаживает покадровое решение "поза надежна" по скользящему окну.
// Не потокобезопасен: вызывается строго по одному разу на кадр, в порядке кадров.
type StabilityFilter struct {
	params  models.Parameters
	history []bool
}

// NewStabilityFilter создает фильтр с пустой историей
func NewStabilityFilter(params models.Parameters) *StabilityFilter {
	return &StabilityFilter{
		params:  params,
		history: make([]bool, 0, max(params.HistorySize, 1)),
	}
}

// Evaluate добавляет оценку текущего кадра в историю и решает, можно ли доверять позе
func (f *StabilityFilter) Evaluate(landmarks []models.Landmark) bool {
	f.history = append(f.history, f.frameStable(landmarks))
	f.trim()

	if len(f.history) < minHistory {
		return false
	}

	stable := 0
	for _, ok := range f.history {
		if ok {
			stable++
		}
	}
	return float64(stable)/float64(len(f.history)) >= f.params.StabilityRatio
}

// frameStable оценивает один кадр без учета истории
func (f *StabilityFilter) frameStable(landmarks []models.Landmark) bool {
	if len(landmarks) == 0 {
		return false
	}

	threshold := f.params.LandmarkVisibilityThreshold
	confident := 0
	for _, lm := range landmarks {
		if lm.Visibility > threshold {
			confident++
		}
	}

	keyParts := 0
	for _, idx := range KeyParts {
		if idx < len(landmarks) && landmarks[idx].Visibility > threshold {
			keyParts++
		}
	}

	return confident >= f.params.ConfidentLandmarksThreshold && keyParts >= f.params.KeyPartsThreshold
}

// Configure применяет новые пороги; при уменьшении окна история обрезается сразу
func (f *StabilityFilter) Configure(params models.Parameters) {
	f.params = params
	f.trim()
}

// Reset возвращает фильтр в состояние "недостаточно данных"
func (f *StabilityFilter) Reset() {
	f.history = f.history[:0]
}

// History возвращает копию текущей истории
func (f *StabilityFilter) History() []bool {
	return append([]bool(nil), f.history...)
}

func (f *StabilityFilter) trim() {
	limit := max(f.params.HistorySize, 1)
	if over := len(f.history) - limit; over > 0 {
		f.history = append(f.history[:0], f.history[over:]...)
	}
}
