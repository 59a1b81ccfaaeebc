package pose

import (
	"reflect"
	"testing"

	"pose-tracker-go/pkg/models"
)

func fullPose(visibility float64) []models.Landmark {
	lms := make([]models.Landmark, NumLandmarks)
	for i := range lms {
		lms[i] = models.Landmark{X: 0.5, Y: 0.5, Visibility: visibility}
	}
	return lms
}

func testParams(historySize int, ratio float64) models.Parameters {
	p := models.DefaultParameters()
	p.HistorySize = historySize
	p.StabilityRatio = ratio
	return p
}

func TestEvaluateDistrustsShortHistory(t *testing.T) {
	for _, lms := range [][]models.Landmark{nil, fullPose(0.1), fullPose(0.99)} {
		f := NewStabilityFilter(testParams(3, 0.0))
		if f.Evaluate(lms) {
			t.Fatalf("first frame must never be trusted")
		}
	}
}

func TestEvaluateHistorySizeOneNeverTrusts(t *testing.T) {
	f := NewStabilityFilter(testParams(1, 0.0))
	for i := 0; i < 5; i++ {
		if f.Evaluate(fullPose(0.9)) {
			t.Fatalf("frame %d: history capped at 1 entry must stay below the evidence minimum", i)
		}
	}
}

func TestEvaluateAllStableAtCapacity(t *testing.T) {
	for _, ratio := range []float64{0, 0.4, 0.99, 1.0} {
		f := NewStabilityFilter(testParams(4, ratio))
		var got bool
		for i := 0; i < 4; i++ {
			got = f.Evaluate(fullPose(0.9))
		}
		if !got {
			t.Errorf("ratio %.2f: expected trusted pose for full history of stable frames", ratio)
		}
	}
}

func TestEvaluateHistoryIsBoundedFIFO(t *testing.T) {
	f := NewStabilityFilter(testParams(3, 0.5))
	f.Evaluate(fullPose(0.9)) // true
	f.Evaluate(nil)           // false
	f.Evaluate(fullPose(0.9)) // true
	f.Evaluate(nil)           // false, evicts the first true

	want := []bool{false, true, false}
	if got := f.History(); !reflect.DeepEqual(got, want) {
		t.Fatalf("history = %v, want %v", got, want)
	}

	for i := 0; i < 10; i++ {
		f.Evaluate(fullPose(0.9))
		if n := len(f.History()); n > 3 {
			t.Fatalf("history grew to %d entries", n)
		}
	}
}

func TestEvaluateRequiresKeyParts(t *testing.T) {
	lms := fullPose(0.9)
	for _, idx := range KeyParts {
		lms[idx].Visibility = 0.1
	}

	f := NewStabilityFilter(testParams(2, 0.5))
	f.Evaluate(lms)
	if f.Evaluate(lms) {
		t.Fatalf("limb-only pose must not be trusted")
	}
	if got := f.History(); got[0] || got[1] {
		t.Fatalf("frames without torso recorded as stable: %v", got)
	}
}

func TestEvaluateShortLandmarkListSkipsMissingKeyParts(t *testing.T) {
	p := testParams(2, 0.5)
	p.ConfidentLandmarksThreshold = 6
	p.KeyPartsThreshold = 2

	short := fullPose(0.9)[:20] // shoulders present, hips out of range
	f := NewStabilityFilter(p)
	f.Evaluate(short)
	if !f.Evaluate(short) {
		t.Fatalf("two visible shoulders should satisfy key_parts_threshold=2")
	}

	p.KeyPartsThreshold = 3
	f = NewStabilityFilter(p)
	f.Evaluate(short)
	if f.Evaluate(short) {
		t.Fatalf("out of range hips must not count as key parts")
	}
}

func TestEvaluateVisibilityThresholdIsStrict(t *testing.T) {
	p := testParams(2, 1.0)
	f := NewStabilityFilter(p)
	lms := fullPose(p.LandmarkVisibilityThreshold)
	f.Evaluate(lms)
	if f.Evaluate(lms) {
		t.Fatalf("visibility equal to the threshold must not count as confident")
	}
}

func TestEvaluateAlternatingDetectionsIsDeterministic(t *testing.T) {
	run := func() []bool {
		f := NewStabilityFilter(testParams(3, 0.4))
		out := make([]bool, 0, 10)
		for i := 0; i < 10; i++ {
			var lms []models.Landmark
			if i%2 == 0 {
				lms = fullPose(0.9)
			}
			out = append(out, f.Evaluate(lms))
		}
		return out
	}

	want := []bool{false, true, true, false, true, false, true, false, true, false}
	first := run()
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("stabilized sequence = %v, want %v", first, want)
	}
	for i := 0; i < 3; i++ {
		if again := run(); !reflect.DeepEqual(again, first) {
			t.Fatalf("run %d differs: %v vs %v", i, again, first)
		}
	}
}

func TestEvaluateWindowFillsBeforeTrust(t *testing.T) {
	f := NewStabilityFilter(testParams(3, 0.4))
	first := -1
	for i := 0; i < 10; i++ {
		var lms []models.Landmark
		if i >= 5 {
			lms = fullPose(0.95)
		}
		if f.Evaluate(lms) && first < 0 {
			first = i
		}
	}
	if first != 6 {
		t.Fatalf("first trusted frame = %d, want 6", first)
	}
}

func TestConfigureShrinksHistoryImmediately(t *testing.T) {
	f := NewStabilityFilter(testParams(5, 0.5))
	for i := 0; i < 5; i++ {
		f.Evaluate(fullPose(0.9))
	}
	f.Evaluate(nil)

	f.Configure(testParams(2, 0.5))
	want := []bool{true, false}
	if got := f.History(); !reflect.DeepEqual(got, want) {
		t.Fatalf("history after shrink = %v, want %v", got, want)
	}
}

func TestResetRestoresInsufficientEvidence(t *testing.T) {
	f := NewStabilityFilter(testParams(3, 0.4))
	f.Evaluate(fullPose(0.9))
	if !f.Evaluate(fullPose(0.9)) {
		t.Fatalf("expected trusted pose before reset")
	}

	f.Reset()
	if len(f.History()) != 0 {
		t.Fatalf("history not empty after reset")
	}
	if f.Evaluate(fullPose(0.9)) {
		t.Fatalf("first frame after reset must not be trusted")
	}
}
