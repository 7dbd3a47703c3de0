package main

import (
	"github.com/BurntSushi/toml"
	"github.com/janpfeifer/landmarks/internal/landmarks"
	"github.com/pkg/errors"
)

// annotationsFile is the format of the -annotations file:
//
//	[[image]]
//	path = "shirt.jpg"
//	visibility = ["visible", "visible", "occluded", "absent", ...]
//	coordinates = [[0.31, 0.12], [0.69, 0.12], [0.1, 0.5], [0, 0], ...]
//
// There must be one visibility value and one coordinate per landmark of the detector layout.
type annotationsFile struct {
	Image []struct {
		Path        string
		Visibility  []string
		Coordinates [][2]float32
	}
}

// loadAnnotations returns the annotations indexed by the image path.
func loadAnnotations(path string, layout *landmarks.Layout) (map[string]*landmarks.Annotation, error) {
	var raw annotationsFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to read annotations from %q", path)
	}
	annotations := make(map[string]*landmarks.Annotation, len(raw.Image))
	for _, entry := range raw.Image {
		if len(entry.Visibility) != layout.Len() || len(entry.Coordinates) != layout.Len() {
			return nil, errors.Errorf("annotation of %q has %d visibility values and %d coordinates, layout %q has %d landmarks",
				entry.Path, len(entry.Visibility), len(entry.Coordinates), layout.Name, layout.Len())
		}
		annotation := &landmarks.Annotation{
			Visibility:  make([]landmarks.Visibility, layout.Len()),
			Coordinates: make([]landmarks.Point, layout.Len()),
		}
		for ii, name := range entry.Visibility {
			var err error
			annotation.Visibility[ii], err = landmarks.ParseVisibility(name)
			if err != nil {
				return nil, errors.WithMessagef(err, "annotation of %q", entry.Path)
			}
			annotation.Coordinates[ii] = entry.Coordinates[ii]
		}
		annotations[entry.Path] = annotation
	}
	return annotations, nil
}
