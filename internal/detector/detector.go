// Package detector implements the landmark detector: it wires the components (backbone, poolings, fuser,
// feature extractor and the visibility and regression heads) into the training pipeline, which returns the
// losses, and two inference pipelines: one for a single image and one for a batch of (augmented) images.
//
// The pipelines are available both as graph functions (ForwardTrainGraph, SimpleTestGraph and AugTestGraph),
// to be used by an external training loop or a larger model, and as executors (ForwardTrain, SimpleTest and
// AugTest) that take and return host values.
package detector

import (
	"fmt"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/janpfeifer/landmarks/internal/components"
	"github.com/janpfeifer/landmarks/internal/config"
	"github.com/janpfeifer/landmarks/internal/landmarks"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"sync"
)

var (
	// defaultBackend is a singleton, used by all detectors created without an explicit backend.
	defaultBackend = sync.OnceValue(func() backends.Backend { return backends.New() })

	// muNewExec serializes the creation of executors.
	muNewExec sync.Mutex
)

// Detector of landmarks: it owns the model context (weights and hyperparameters) and the components.
//
// A Detector only reads its weights, updating them is the responsibility of an external training loop,
// see Context.
type Detector struct {
	cfg     *config.Detector
	layout  *landmarks.Layout
	backend backends.Backend
	ctx     *context.Context

	backbone   components.Backbone
	globalPool components.GlobalPool
	roiPool    components.RegionPool
	fuser      components.FeatureFuser
	extractor  components.FeatureExtractor
	visibility components.VisibilityHead
	regression components.RegressionHead

	forwardTrainExec, simpleTestExec, augTestExec *context.Exec

	// NumCompilations counts the number of graphs built by the executors. Different batch sizes
	// (after padding) or image geometries trigger new compilations.
	NumCompilations int
}

// New creates a Detector for the given configuration, and initializes its weights.
//
// Components are created in a fixed order (backbone, global pool, roi pool, concat, landmark feature
// extractor, visibility classifier and landmark regression), and the first failure is returned.
//
// If backend is nil, a default backend (shared by all detectors) is used.
func New(backend backends.Backend, cfg *config.Detector) (*Detector, error) {
	if cfg == nil {
		return nil, errors.New("detector configuration missing")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{cfg: cfg.Clone()}
	var err error
	d.layout, err = landmarks.LayoutByName(d.cfg.Layout)
	if err != nil {
		return nil, err
	}

	// Build components.
	if d.backbone, err = components.NewBackbone(d.cfg.Backbone); err != nil {
		return nil, err
	}
	if d.globalPool, err = components.NewGlobalPool(d.cfg.GlobalPool); err != nil {
		return nil, err
	}
	if d.roiPool, err = components.NewRegionPool(d.cfg.RoIPool); err != nil {
		return nil, err
	}
	if d.fuser, err = components.NewFeatureFuser(d.cfg.Concat); err != nil {
		return nil, err
	}
	if d.extractor, err = components.NewFeatureExtractor(d.cfg.FeatureExtractor); err != nil {
		return nil, err
	}
	if d.visibility, err = components.NewVisibilityHead(d.cfg.VisibilityClassifier); err != nil {
		return nil, err
	}
	if d.regression, err = components.NewRegressionHead(d.cfg.LandmarkRegression); err != nil {
		return nil, err
	}

	if err = d.initWeights(); err != nil {
		return nil, err
	}
	d.backend = backend
	if d.backend == nil {
		d.backend = defaultBackend()
	}
	d.createExecutors()
	klog.V(1).Infof("Created %s", d)
	return d, nil
}

// initWeights runs the common initialization (model-wide hyperparameters and random state), then
// initializes each component in order. Components write their hyperparameters in their own scope,
// and their variables are created (or loaded, for a pretrained backbone) accordingly.
func (d *Detector) initWeights() error {
	d.ctx = context.New()
	d.ctx.SetParams(map[string]any{
		components.ParamNumLandmarks: d.layout.Len(),
		"batch_size":                 d.cfg.BatchSize,
		"image_height":               d.cfg.ImageHeight,
		"image_width":                d.cfg.ImageWidth,
		"image_channels":             d.cfg.ImageChannels,
	})
	if d.cfg.Seed != 0 {
		d.ctx.RngStateFromSeed(d.cfg.Seed)
	} else {
		d.ctx.RngStateReset()
	}

	if err := d.backbone.Init(d.ctx.In(config.TableBackbone), d.cfg.Pretrained); err != nil {
		return err
	}
	for _, c := range []struct {
		scope       string
		initializer components.Initializer
	}{
		{config.TableGlobalPool, d.globalPool},
		{config.TableRoIPool, d.roiPool},
		{config.TableConcat, d.fuser},
		{config.TableFeatureExtractor, d.extractor},
		{config.TableVisibilityClassifier, d.visibility},
		{config.TableLandmarkRegression, d.regression},
	} {
		if err := c.initializer.Init(d.ctx.In(c.scope)); err != nil {
			return err
		}
	}
	d.ctx = d.ctx.Checked(false)
	return nil
}

// Context returns the model context, with the weights and hyperparameters.
//
// An external training loop can use it, along with ForwardTrainGraph, to train the detector.
func (d *Detector) Context() *context.Context {
	return d.ctx
}

// Layout returns the layout of the landmarks predicted by the detector.
func (d *Detector) Layout() *landmarks.Layout {
	return d.layout
}

// String implements fmt.Stringer.
func (d *Detector) String() string {
	return fmt.Sprintf("detector(layout=%s, backbone=%s, global_pool=%s, roi_pool=%s, concat=%s, "+
		"landmark_feature_extractor=%s, visibility_classifier=%s, landmark_regression=%s)",
		d.layout.Name, d.backbone, d.globalPool, d.roiPool, d.fuser, d.extractor, d.visibility, d.regression)
}
