// Package evaluation measures the quality of landmark predictions against annotations.
package evaluation

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/janpfeifer/landmarks/internal/landmarks"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"math"
	"strings"
)

// DefaultThresholds used for the detection rate, in normalized distance.
var DefaultThresholds = []float64{0.05, 0.10, 0.15, 0.20}

// Evaluator accumulates predictions and their annotations. It is not safe for concurrent use.
type Evaluator struct {
	layout     *landmarks.Layout
	thresholds []float64

	// distances per landmark, for the landmarks visible in the annotation.
	distances [][]float64

	numImages, numVisibilityCorrect, numVisibilityTotal int
}

// New creates an Evaluator for the landmarks in layout. If no thresholds are given, DefaultThresholds are used.
func New(layout *landmarks.Layout, thresholds ...float64) *Evaluator {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	return &Evaluator{
		layout:     layout,
		thresholds: append([]float64(nil), thresholds...),
		distances:  make([][]float64, layout.Len()),
	}
}

// Add a prediction and its annotation.
func (e *Evaluator) Add(prediction *landmarks.Prediction, annotation *landmarks.Annotation) error {
	n := e.layout.Len()
	if len(prediction.Visible) != n || len(prediction.Coordinates) != n {
		return errors.Errorf("prediction has %d visibility values and %d coordinates, layout %q has %d landmarks",
			len(prediction.Visible), len(prediction.Coordinates), e.layout.Name, n)
	}
	if len(annotation.Visibility) != n || len(annotation.Coordinates) != n {
		return errors.Errorf("annotation has %d visibility labels and %d coordinates, layout %q has %d landmarks",
			len(annotation.Visibility), len(annotation.Coordinates), e.layout.Name, n)
	}
	e.numImages++
	for ii := range n {
		isVisible := annotation.Visibility[ii] == landmarks.Visible
		if prediction.Visible[ii] == isVisible {
			e.numVisibilityCorrect++
		}
		e.numVisibilityTotal++
		if !isVisible {
			continue
		}
		predicted, label := prediction.Coordinates[ii], annotation.Coordinates[ii]
		distance := math32.Hypot(predicted[0]-label[0], predicted[1]-label[1])
		e.distances[ii] = append(e.distances[ii], float64(distance))
	}
	return nil
}

// DetectionRate is the fraction of visible landmarks predicted within Threshold of their annotation.
type DetectionRate struct {
	Threshold, Rate float64
}

// Result of an evaluation. Values without any landmark to measure are NaN.
type Result struct {
	NumImages int

	// NME is the normalized mean error: the mean distance between predicted and annotated coordinates,
	// over the landmarks visible in the annotations. NMEStdDev is its standard deviation.
	NME, NMEStdDev float64

	// LandmarkNME is the NME of each landmark of the layout.
	LandmarkNME []float64

	DetectionRates []DetectionRate

	// VisibilityAccuracy is the fraction of landmarks whose predicted visibility matches the annotation.
	VisibilityAccuracy float64

	layout *landmarks.Layout
}

// Result returns the metrics of the predictions added so far.
func (e *Evaluator) Result() *Result {
	r := &Result{
		NumImages:          e.numImages,
		NME:                math.NaN(),
		NMEStdDev:          math.NaN(),
		LandmarkNME:        make([]float64, len(e.distances)),
		VisibilityAccuracy: math.NaN(),
		layout:             e.layout,
	}
	var all []float64
	for ii, distances := range e.distances {
		all = append(all, distances...)
		r.LandmarkNME[ii] = math.NaN()
		if len(distances) > 0 {
			r.LandmarkNME[ii] = stat.Mean(distances, nil)
		}
	}
	if len(all) > 0 {
		r.NME = stat.Mean(all, nil)
		r.NMEStdDev = 0
		if len(all) > 1 {
			r.NMEStdDev = stat.StdDev(all, nil)
		}
	}
	for _, threshold := range e.thresholds {
		rate := DetectionRate{Threshold: threshold, Rate: math.NaN()}
		if len(all) > 0 {
			var count int
			for _, d := range all {
				if d <= threshold {
					count++
				}
			}
			rate.Rate = float64(count) / float64(len(all))
		}
		r.DetectionRates = append(r.DetectionRates, rate)
	}
	if e.numVisibilityTotal > 0 {
		r.VisibilityAccuracy = float64(e.numVisibilityCorrect) / float64(e.numVisibilityTotal)
	}
	return r
}

// String implements fmt.Stringer.
func (r *Result) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d images: NME=%.4f (stddev %.4f), visibility accuracy=%.2f%%",
		r.NumImages, r.NME, r.NMEStdDev, 100*r.VisibilityAccuracy)
	for _, rate := range r.DetectionRates {
		fmt.Fprintf(&sb, ", detection@%.2f=%.2f%%", rate.Threshold, 100*rate.Rate)
	}
	for ii, nme := range r.LandmarkNME {
		fmt.Fprintf(&sb, "\n  %s: NME=%.4f", r.layout.Landmarks[ii], nme)
	}
	return sb.String()
}
