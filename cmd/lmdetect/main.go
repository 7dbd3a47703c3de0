// lmdetect runs a landmark detector on a list of images and prints the predicted landmarks.
//
// Usage:
//
//	lmdetect -config=configs/roi_landmark_detector.toml -pretrained=<checkpoint_dir> -images=a.jpg,b.png
//
// With -aug all images are predicted in one batch, which requires them to be resized to the same
// geometry (they always are, to the configured image dimensions). With -annotations the predictions
// are also evaluated against the annotated landmarks.
package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/janpfeifer/landmarks/internal/config"
	"github.com/janpfeifer/landmarks/internal/detector"
	"github.com/janpfeifer/landmarks/internal/evaluation"
	"github.com/janpfeifer/landmarks/internal/landmarks"
	"github.com/janpfeifer/landmarks/internal/profilers"
	"github.com/janpfeifer/landmarks/internal/ui/spinning"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"strings"
	"time"
)

var (
	flagConfig      = flag.String("config", "", "TOML file with the detector configuration. If empty, a default configuration is used.")
	flagImages      = flag.String("images", "", "Comma-separated list of image files (png, jpeg, gif, bmp or webp).")
	flagAug         = flag.Bool("aug", false, "Predict all images in one batch, instead of one at a time.")
	flagPretrained  = flag.String("pretrained", "", "Checkpoint directory with the pretrained backbone weights. It overrides the configuration.")
	flagAnnotations = flag.String("annotations", "", "Optional TOML file with the annotated landmarks of the images, to evaluate the predictions.")
	flagColor       = flag.Bool("color", true, "Colorize output.")
	flagSpinner     = flag.String("spinner", "ascii", "Spinner theme shown while predicting: \"ascii\", \"moon\" or \"clock\".")

	globalCtx = context.Background()
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	// Capture Control+C
	var cancel func()
	globalCtx, cancel = context.WithCancel(context.Background())
	spinning.SafeInterrupt(cancel, 3*time.Second)
	defer cancel()
	must.M(spinning.SetTheme(*flagSpinner))
	must.M(profilers.Setup(globalCtx))
	defer profilers.OnQuit()

	cfg := must.M1(loadConfig())
	paths := splitList(*flagImages)
	if len(paths) == 0 {
		klog.Exitf("No images given, please set -images")
	}
	images := must.M1(decodeImages(globalCtx, paths, cfg.ImageHeight, cfg.ImageWidth, cfg.ImageChannels))
	if globalCtx.Err() != nil {
		return
	}

	d := must.M1(detector.New(nil, cfg))
	klog.V(1).Infof("Detector: %s", d)
	s := spinning.New(globalCtx, fmt.Sprintf("Predicting %d images", len(images)))
	predictions, err := predict(d, images)
	s.Done()
	must.M(err)

	printPredictions(d.Layout(), paths, predictions, *flagColor)
	if *flagAnnotations != "" {
		result := must.M1(evaluate(d.Layout(), *flagAnnotations, paths, predictions))
		fmt.Printf("\nEvaluation: %s\n", result)
	}
}

func loadConfig() (*config.Detector, error) {
	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		cfg, err = config.Load(*flagConfig)
		if err != nil {
			return nil, err
		}
	}
	if *flagPretrained != "" {
		cfg.Pretrained = *flagPretrained
	}
	return cfg, nil
}

func splitList(list string) []string {
	var values []string
	for _, value := range strings.Split(list, ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			values = append(values, value)
		}
	}
	return values
}

// predict the landmarks of all images, one at a time or, with -aug, as one batch.
func predict(d *detector.Detector, images []*landmarks.Image) ([]*landmarks.Prediction, error) {
	if *flagAug {
		return d.AugTest(images)
	}
	predictions := make([]*landmarks.Prediction, len(images))
	for ii, image := range images {
		if globalCtx.Err() != nil {
			return nil, errors.New("interrupted")
		}
		var err error
		predictions[ii], err = d.SimpleTest(image)
		if err != nil {
			return nil, errors.WithMessagef(err, "while predicting image #%d", ii)
		}
	}
	return predictions, nil
}

// evaluate the predictions against the annotations of the images, if available.
func evaluate(layout *landmarks.Layout, annotationsPath string, paths []string, predictions []*landmarks.Prediction) (*evaluation.Result, error) {
	annotations, err := loadAnnotations(annotationsPath, layout)
	if err != nil {
		return nil, err
	}
	e := evaluation.New(layout)
	for ii, path := range paths {
		annotation, found := annotations[path]
		if !found {
			klog.Warningf("No annotation for image %q, skipping its evaluation", path)
			continue
		}
		if err := e.Add(predictions[ii], annotation); err != nil {
			return nil, errors.WithMessagef(err, "evaluating image %q", path)
		}
	}
	return e.Result(), nil
}
