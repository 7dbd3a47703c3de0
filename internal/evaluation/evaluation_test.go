package evaluation

import (
	"github.com/janpfeifer/landmarks/internal/landmarks"
	"github.com/stretchr/testify/require"
	"math"
	"testing"
)

func TestEvaluator(t *testing.T) {
	layout := landmarks.LayoutLower
	e := New(layout, 0.05, 0.2)
	annotation := &landmarks.Annotation{
		Visibility:  []landmarks.Visibility{landmarks.Visible, landmarks.Visible, landmarks.Occluded, landmarks.Absent},
		Coordinates: []landmarks.Point{{0.5, 0.5}, {0.2, 0.2}, {0.7, 0.7}, {}},
	}
	prediction := &landmarks.Prediction{
		Visible:     []bool{true, true, true, false},
		Coordinates: []landmarks.Point{{0.5, 0.6}, {0.5, 0.6}, {0.7, 0.7}, {}},
	}
	require.NoError(t, e.Add(prediction, annotation))
	r := e.Result()
	require.Equal(t, 1, r.NumImages)

	// Distances: 0.1 and 0.5 for the two visible landmarks.
	require.InDelta(t, 0.3, r.NME, 1e-5)
	require.InDelta(t, 0.1, r.LandmarkNME[0], 1e-5)
	require.InDelta(t, 0.5, r.LandmarkNME[1], 1e-5)
	require.True(t, math.IsNaN(r.LandmarkNME[2]))
	require.Len(t, r.DetectionRates, 2)
	require.Equal(t, 0.0, r.DetectionRates[0].Rate)
	require.Equal(t, 0.5, r.DetectionRates[1].Rate)

	// The occluded landmark was predicted visible.
	require.Equal(t, 0.75, r.VisibilityAccuracy)
	require.Contains(t, r.String(), "left_waistline: NME=0.1000")
}

func TestEvaluator_Empty(t *testing.T) {
	r := New(landmarks.LayoutFull).Result()
	require.Equal(t, 0, r.NumImages)
	require.True(t, math.IsNaN(r.NME))
	require.True(t, math.IsNaN(r.VisibilityAccuracy))
	require.Len(t, r.DetectionRates, len(DefaultThresholds))
}

func TestEvaluator_Errors(t *testing.T) {
	e := New(landmarks.LayoutLower)
	annotation := &landmarks.Annotation{
		Visibility:  make([]landmarks.Visibility, 4),
		Coordinates: make([]landmarks.Point, 4),
	}
	err := e.Add(&landmarks.Prediction{Visible: make([]bool, 3), Coordinates: make([]landmarks.Point, 3)}, annotation)
	require.ErrorContains(t, err, "prediction")
	err = e.Add(&landmarks.Prediction{Visible: make([]bool, 4), Coordinates: make([]landmarks.Point, 4)},
		&landmarks.Annotation{})
	require.ErrorContains(t, err, "annotation")
	require.Equal(t, 0, e.Result().NumImages)
}
