// Package landmarks defines the data model of the landmark detector: landmark layouts, visibility
// states, images, annotations and predictions, and the conversion of them to and from tensors.
//
// The index of a landmark in its Layout is its identity everywhere: region descriptors,
// visibility labels, coordinate labels and every per-landmark output use the same ordering.
package landmarks

import (
	"fmt"
	"github.com/pkg/errors"
	"strings"
)

// Visibility state of a landmark. It is encoded in tensors as its int32 value, which is also the
// class index used by the categorical visibility classifier.
type Visibility int32

const (
	Visible Visibility = iota
	Occluded
	Absent
)

// NumVisibilityClasses is the number of Visibility states.
const NumVisibilityClasses = 3

// String implements fmt.Stringer.
func (v Visibility) String() string {
	switch v {
	case Visible:
		return "visible"
	case Occluded:
		return "occluded"
	case Absent:
		return "absent"
	}
	return fmt.Sprintf("Visibility(%d)", int32(v))
}

// ParseVisibility converts the name of a Visibility (as returned by Visibility.String), case-insensitive.
func ParseVisibility(name string) (Visibility, error) {
	for v := range Visibility(NumVisibilityClasses) {
		if strings.EqualFold(name, v.String()) {
			return v, nil
		}
	}
	return 0, errors.Errorf("unknown visibility %q, valid values are \"visible\", \"occluded\" or \"absent\"", name)
}

// Layout is the ordered list of semantic landmarks predicted by a detector.
type Layout struct {
	Name      string
	Landmarks []string
}

// Len returns the number of landmarks in the layout.
func (l *Layout) Len() int { return len(l.Landmarks) }

// String implements fmt.Stringer.
func (l *Layout) String() string {
	return fmt.Sprintf("%s[%d landmarks]", l.Name, len(l.Landmarks))
}

// Predefined garment layouts.
var (
	LayoutUpper = &Layout{
		Name: "upper",
		Landmarks: []string{
			"left_collar", "right_collar",
			"left_sleeve", "right_sleeve",
			"left_hem", "right_hem",
		},
	}
	LayoutLower = &Layout{
		Name: "lower",
		Landmarks: []string{
			"left_waistline", "right_waistline",
			"left_hem", "right_hem",
		},
	}
	LayoutFull = &Layout{
		Name: "full",
		Landmarks: []string{
			"left_collar", "right_collar",
			"left_sleeve", "right_sleeve",
			"left_waistline", "right_waistline",
			"left_hem", "right_hem",
		},
	}

	layouts = []*Layout{LayoutUpper, LayoutLower, LayoutFull}
)

// LayoutByName returns one of the predefined layouts.
func LayoutByName(name string) (*Layout, error) {
	for _, layout := range layouts {
		if layout.Name == strings.ToLower(name) {
			return layout, nil
		}
	}
	names := make([]string, 0, len(layouts))
	for _, layout := range layouts {
		names = append(names, layout.Name)
	}
	return nil, errors.Errorf("unknown landmark layout %q, valid values are %q", name, names)
}

// Point is a normalized (x, y) coordinate: 0 is the left/top border of the image, 1 the right/bottom one.
type Point [2]float32

// Annotation holds the ground-truth for each landmark of one image.
type Annotation struct {
	Visibility  []Visibility
	Coordinates []Point

	// Regions are the region descriptors used by region pooling, one per landmark: the normalized
	// center of the region.
	Regions []Point
}

// Sample is one training example.
type Sample struct {
	Image *Image
	Annotation

	// Attributes are optional auxiliary labels. They are carried through to the detector, which
	// currently doesn't use them.
	Attributes []float32
}

// Prediction for one image.
type Prediction struct {
	Visible     []bool
	Coordinates []Point
}

// String implements fmt.Stringer.
func (p *Prediction) String() string {
	parts := make([]string, len(p.Visible))
	for ii, visible := range p.Visible {
		if !visible {
			parts[ii] = "-"
			continue
		}
		parts[ii] = fmt.Sprintf("(%.3f,%.3f)", p.Coordinates[ii][0], p.Coordinates[ii][1])
	}
	return "[" + strings.Join(parts, " ") + "]"
}
