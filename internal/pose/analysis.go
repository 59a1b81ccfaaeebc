package pose

import (
	"math"

	"pose-tracker-go/pkg/models"
)

// DrawVisibility порог видимости, с которого точка рисуется и считается видимой
const DrawVisibility = 0.5

// KeyPoints основные анатомические точки; nil если детектор вернул меньше точек
type KeyPoints struct {
	LeftShoulder  *models.Landmark `json:"left_shoulder"`
	RightShoulder *models.Landmark `json:"right_shoulder"`
	LeftElbow     *models.Landmark `json:"left_elbow"`
	RightElbow    *models.Landmark `json:"right_elbow"`
	LeftWrist     *models.Landmark `json:"left_wrist"`
	RightWrist    *models.Landmark `json:"right_wrist"`
	LeftHip       *models.Landmark `json:"left_hip"`
	RightHip      *models.Landmark `json:"right_hip"`
	LeftKnee      *models.Landmark `json:"left_knee"`
	RightKnee     *models.Landmark `json:"right_knee"`
	LeftAnkle     *models.Landmark `json:"left_ankle"`
	RightAnkle    *models.Landmark `json:"right_ankle"`
}

// keyPointNames порядок и индексы ключевых точек сводки
var keyPointNames = []struct {
	name  string
	index int
}{
	{"left_shoulder", LeftShoulder},
	{"right_shoulder", RightShoulder},
	{"left_elbow", LeftElbow},
	{"right_elbow", RightElbow},
	{"left_wrist", LeftWrist},
	{"right_wrist", RightWrist},
	{"left_hip", LeftHip},
	{"right_hip", RightHip},
	{"left_knee", LeftKnee},
	{"right_knee", RightKnee},
	{"left_ankle", LeftAnkle},
	{"right_ankle", RightAnkle},
}

// Analysis сводка по одному набору точек
type Analysis struct {
	PoseDetected   bool      `json:"pose_detected"`
	TotalLandmarks int       `json:"total_landmarks"`
	Confidence     float64   `json:"confidence"`
	KeyPoints      KeyPoints `json:"key_points"`
}

// Analyze строит сводку по точкам одного кадра
func Analyze(landmarks []models.Landmark) Analysis {
	if len(landmarks) == 0 {
		return Analysis{}
	}

	sum := 0.0
	for _, lm := range landmarks {
		sum += lm.Visibility
	}

	return Analysis{
		PoseDetected:   true,
		TotalLandmarks: len(landmarks),
		Confidence:     sum / float64(len(landmarks)),
		KeyPoints:      extractKeyPoints(landmarks),
	}
}

func extractKeyPoints(landmarks []models.Landmark) KeyPoints {
	at := func(idx int) *models.Landmark {
		if idx >= len(landmarks) {
			return nil
		}
		lm := landmarks[idx]
		return &lm
	}

	return KeyPoints{
		LeftShoulder:  at(LeftShoulder),
		RightShoulder: at(RightShoulder),
		LeftElbow:     at(LeftElbow),
		RightElbow:    at(RightElbow),
		LeftWrist:     at(LeftWrist),
		RightWrist:    at(RightWrist),
		LeftHip:       at(LeftHip),
		RightHip:      at(RightHip),
		LeftKnee:      at(LeftKnee),
		RightKnee:     at(RightKnee),
		LeftAnkle:     at(LeftAnkle),
		RightAnkle:    at(RightAnkle),
	}
}

// VideoSummary сводка по всем стабильным кадрам видео
type VideoSummary struct {
	FramesProcessed    int                `json:"frames_processed"`
	PosesDetected      int                `json:"poses_detected"`
	DetectionRate      float64            `json:"detection_rate"` // В процентах
	AverageConfidence  float64            `json:"average_confidence"`
	KeyPointVisibility map[string]float64 `json:"key_point_visibility"` // Доля стабильных кадров, где точка видна
	LastFrameIndex     int                `json:"last_frame_index"`
	LastPose           Analysis           `json:"last_pose"`
}

// SummarizeVideo агрегирует сохраненные точки стабильных кадров
func SummarizeVideo(stats models.VideoStats, detections []models.FrameLandmarks) VideoSummary {
	summary := VideoSummary{
		FramesProcessed:    stats.FramesProcessed,
		PosesDetected:      stats.PosesDetected,
		DetectionRate:      round1(stats.DetectionRate() * 100),
		KeyPointVisibility: make(map[string]float64, len(keyPointNames)),
		LastFrameIndex:     -1,
	}

	visible := make([]int, len(keyPointNames))
	confidenceSum := 0.0
	counted := 0
	for _, det := range detections {
		if len(det.Landmarks) == 0 {
			continue
		}
		confidenceSum += Analyze(det.Landmarks).Confidence
		counted++
		for i, kp := range keyPointNames {
			if kp.index < len(det.Landmarks) && det.Landmarks[kp.index].Visibility >= DrawVisibility {
				visible[i]++
			}
		}
		if det.FrameIndex >= summary.LastFrameIndex {
			summary.LastFrameIndex = det.FrameIndex
			summary.LastPose = Analyze(det.Landmarks)
		}
	}

	for i, kp := range keyPointNames {
		ratio := 0.0
		if counted > 0 {
			ratio = float64(visible[i]) / float64(counted)
		}
		summary.KeyPointVisibility[kp.name] = round2(ratio)
	}
	if counted > 0 {
		summary.AverageConfidence = round2(confidenceSum / float64(counted))
	}

	return summary
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
