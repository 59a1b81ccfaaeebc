package main

import (
	"github.com/spf13/cobra"

	"pose-tracker-go/internal/config"
	"pose-tracker-go/internal/pose"
	"pose-tracker-go/pkg/models"
)

// parameterFlags флаги для каждого параметра детектора и фильтра
type parameterFlags struct {
	file   string
	values models.Parameters
}

func bindParameterFlags(cmd *cobra.Command, defaultFile string) *parameterFlags {
	pf := &parameterFlags{file: defaultFile, values: models.DefaultParameters()}
	flags := cmd.Flags()
	flags.StringVar(&pf.file, "params", defaultFile, "YAML file with parameters")
	flags.Float64Var(&pf.values.MinDetectionConfidence, "min-detection-confidence", pf.values.MinDetectionConfidence, "Detector confidence to start tracking (0-1)")
	flags.Float64Var(&pf.values.MinTrackingConfidence, "min-tracking-confidence", pf.values.MinTrackingConfidence, "Detector confidence to keep tracking (0-1)")
	flags.IntVar(&pf.values.ModelComplexity, "model-complexity", pf.values.ModelComplexity, "Detector model complexity (0, 1 or 2)")
	flags.IntVar(&pf.values.ConfidentLandmarksThreshold, "confident-landmarks", pf.values.ConfidentLandmarksThreshold, "Landmarks above the visibility threshold required per frame (1-33)")
	flags.IntVar(&pf.values.KeyPartsThreshold, "key-parts", pf.values.KeyPartsThreshold, "Visible shoulders/hips required per frame (1-4)")
	flags.Float64Var(&pf.values.StabilityRatio, "stability-ratio", pf.values.StabilityRatio, "Share of stable frames in the window (0-1)")
	flags.IntVar(&pf.values.HistorySize, "history-size", pf.values.HistorySize, "Stability window in frames")
	flags.Float64Var(&pf.values.LandmarkVisibilityThreshold, "visibility-threshold", pf.values.LandmarkVisibilityThreshold, "Landmark visibility threshold (0-1)")
	return pf
}

// resolve собирает параметры: значения по умолчанию, затем файл, затем явно заданные флаги
func (pf *parameterFlags) resolve(cmd *cobra.Command) (models.Parameters, error) {
	params, err := config.LoadParameters(pf.file)
	if err != nil {
		return models.Parameters{}, err
	}

	flags := cmd.Flags()
	var patch models.ParameterPatch
	if flags.Changed("min-detection-confidence") {
		patch.MinDetectionConfidence = &pf.values.MinDetectionConfidence
	}
	if flags.Changed("min-tracking-confidence") {
		patch.MinTrackingConfidence = &pf.values.MinTrackingConfidence
	}
	if flags.Changed("model-complexity") {
		patch.ModelComplexity = &pf.values.ModelComplexity
	}
	if flags.Changed("confident-landmarks") {
		patch.ConfidentLandmarksThreshold = &pf.values.ConfidentLandmarksThreshold
	}
	if flags.Changed("key-parts") {
		patch.KeyPartsThreshold = &pf.values.KeyPartsThreshold
	}
	if flags.Changed("stability-ratio") {
		patch.StabilityRatio = &pf.values.StabilityRatio
	}
	if flags.Changed("history-size") {
		patch.HistorySize = &pf.values.HistorySize
	}
	if flags.Changed("visibility-threshold") {
		patch.LandmarkVisibilityThreshold = &pf.values.LandmarkVisibilityThreshold
	}

	params = params.Apply(patch)
	if err := pose.ValidateParameters(params); err != nil {
		return models.Parameters{}, err
	}
	return params, nil
}
