package models

// Landmark представляет одну ключевую точку тела, найденную детектором
type Landmark struct {
	X          float64 `json:"x"`          // Нормализованная координата X (0-1)
	Y          float64 `json:"y"`          // Нормализованная координата Y (0-1)
	Z          float64 `json:"z"`          // Относительная глубина
	Visibility float64 `json:"visibility"` // Видимость точки (0-1)
}

// DetectorOptions параметры, с которыми создается детектор позы
type DetectorOptions struct {
	MinDetectionConfidence float64 `json:"min_detection_confidence"`
	MinTrackingConfidence  float64 `json:"min_tracking_confidence"`
	ModelComplexity        int     `json:"model_complexity"`
}

// Parameters настраиваемые параметры детектора и фильтра стабильности
type Parameters struct {
	MinDetectionConfidence      float64 `json:"min_detection_confidence" yaml:"min_detection_confidence" validate:"gte=0,lte=1"`
	MinTrackingConfidence       float64 `json:"min_tracking_confidence" yaml:"min_tracking_confidence" validate:"gte=0,lte=1"`
	ModelComplexity             int     `json:"model_complexity" yaml:"model_complexity" validate:"oneof=0 1 2"`
	ConfidentLandmarksThreshold int     `json:"confident_landmarks_threshold" yaml:"confident_landmarks_threshold" validate:"gte=1,lte=33"`
	KeyPartsThreshold           int     `json:"key_parts_threshold" yaml:"key_parts_threshold" validate:"gte=1,lte=4"`
	StabilityRatio              float64 `json:"stability_ratio" yaml:"stability_ratio" validate:"gte=0,lte=1"`
	HistorySize                 int     `json:"history_size" yaml:"history_size" validate:"gte=1,lte=300"`
	LandmarkVisibilityThreshold float64 `json:"landmark_visibility_threshold" yaml:"landmark_visibility_threshold" validate:"gte=0,lte=1"`
}

// DefaultParameters возвращает параметры по умолчанию, подобранные для динамичных движений
func DefaultParameters() Parameters {
	return Parameters{
		MinDetectionConfidence:      0.4,
		MinTrackingConfidence:       0.3,
		ModelComplexity:             1,
		ConfidentLandmarksThreshold: 6,
		KeyPartsThreshold:           2,
		StabilityRatio:              0.4,
		HistorySize:                 3,
		LandmarkVisibilityThreshold: 0.4,
	}
}

// DetectorOptions выделяет параметры, влияющие на создание детектора
func (p Parameters) DetectorOptions() DetectorOptions {
	return DetectorOptions{
		MinDetectionConfidence: p.MinDetectionConfidence,
		MinTrackingConfidence:  p.MinTrackingConfidence,
		ModelComplexity:        p.ModelComplexity,
	}
}

// ParameterPatch частичное обновление параметров: nil означает "не менять"
type ParameterPatch struct {
	MinDetectionConfidence      *float64 `json:"min_detection_confidence,omitempty" yaml:"min_detection_confidence,omitempty"`
	MinTrackingConfidence       *float64 `json:"min_tracking_confidence,omitempty" yaml:"min_tracking_confidence,omitempty"`
	ModelComplexity             *int     `json:"model_complexity,omitempty" yaml:"model_complexity,omitempty"`
	ConfidentLandmarksThreshold *int     `json:"confident_landmarks_threshold,omitempty" yaml:"confident_landmarks_threshold,omitempty"`
	KeyPartsThreshold           *int     `json:"key_parts_threshold,omitempty" yaml:"key_parts_threshold,omitempty"`
	StabilityRatio              *float64 `json:"stability_ratio,omitempty" yaml:"stability_ratio,omitempty"`
	HistorySize                 *int     `json:"history_size,omitempty" yaml:"history_size,omitempty"`
	LandmarkVisibilityThreshold *float64 `json:"landmark_visibility_threshold,omitempty" yaml:"landmark_visibility_threshold,omitempty"`
}

// Apply возвращает копию параметров с примененными полями патча
func (p Parameters) Apply(patch ParameterPatch) Parameters {
	if patch.MinDetectionConfidence != nil {
		p.MinDetectionConfidence = *patch.MinDetectionConfidence
	}
	if patch.MinTrackingConfidence != nil {
		p.MinTrackingConfidence = *patch.MinTrackingConfidence
	}
	if patch.ModelComplexity != nil {
		p.ModelComplexity = *patch.ModelComplexity
	}
	if patch.ConfidentLandmarksThreshold != nil {
		p.ConfidentLandmarksThreshold = *patch.ConfidentLandmarksThreshold
	}
	if patch.KeyPartsThreshold != nil {
		p.KeyPartsThreshold = *patch.KeyPartsThreshold
	}
	if patch.StabilityRatio != nil {
		p.StabilityRatio = *patch.StabilityRatio
	}
	if patch.HistorySize != nil {
		p.HistorySize = *patch.HistorySize
	}
	if patch.LandmarkVisibilityThreshold != nil {
		p.LandmarkVisibilityThreshold = *patch.LandmarkVisibilityThreshold
	}
	return p
}

// VideoStats счетчики одного прохода по видео
type VideoStats struct {
	FramesProcessed int `json:"frames_processed"` // Обработано кадров
	PosesDetected   int `json:"poses_detected"`   // Кадров со стабильной позой
}

// DetectionRate доля кадров с позой; 0 если кадров не было
func (s VideoStats) DetectionRate() float64 {
	if s.FramesProcessed == 0 {
		return 0
	}
	return float64(s.PosesDetected) / float64(s.FramesProcessed)
}

// VideoInfo свойства исходного видео
type VideoInfo struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"` // Из метаданных контейнера, может быть неточным
}

// Duration длительность видео в секундах
func (i VideoInfo) Duration() float64 {
	if i.FPS <= 0 {
		return 0
	}
	return float64(i.FrameCount) / i.FPS
}

// FrameLandmarks точки стабильной позы для одного кадра
type FrameLandmarks struct {
	FrameIndex int        `json:"frame_index"`
	Landmarks  []Landmark `json:"landmarks"`
}

// Стадии обработки видео
const (
	StageQueued     = "queued"
	StageProcessing = "processing"
	StageCompleted  = "completed"
	StageFailed     = "failed"
	StageCanceled   = "canceled"
)

// Progress состояние обработки видео
type Progress struct {
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"` // Проценты, может слегка превышать 100 при неточных метаданных
	Message  string  `json:"message"`
}

// Terminal сообщает, завершена ли обработка
func (p Progress) Terminal() bool {
	switch p.Stage {
	case StageCompleted, StageFailed, StageCanceled:
		return true
	}
	return false
}

// DetectorResponse определяет структуру ответа внешнего детектора позы
type DetectorResponse struct {
	Status    string     `json:"status"`    // Статус выполнения
	Message   string     `json:"message"`   // Сообщение
	Landmarks []Landmark `json:"landmarks"` // Точки позы или null, если поза не найдена
}

// HealthResponse представляет ответ проверки здоровья сервиса
type HealthResponse struct {
	Status      string `json:"status"`       // Статус сервиса (healthy/unhealthy)
	ModelLoaded bool   `json:"model_loaded"` // Загружена ли модель нейронной сети
	Version     string `json:"version"`      // Версия сервиса
}
